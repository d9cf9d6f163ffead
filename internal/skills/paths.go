package skills

import (
	"os"
	"path/filepath"
	"strings"
)

// SkillsPathEnvVar overrides the configured skill roots
const SkillsPathEnvVar = "AGENTCORE_SKILLS_PATH"

// ResolveRoots returns the skill directories to scan, in priority order.
//
// If AGENTCORE_SKILLS_PATH is set it is read as a path list (like PATH).
// Otherwise the configured root is used.
func ResolveRoots(configured string) []string {
	if env := strings.TrimSpace(os.Getenv(SkillsPathEnvVar)); env != "" {
		return splitSearchPaths(env)
	}
	return splitSearchPaths(configured)
}

// splitSearchPaths splits a path-list string into cleaned, non-empty paths
func splitSearchPaths(value string) []string {
	parts := strings.Split(value, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, filepath.Clean(p))
		}
	}
	return out
}

// safeJoin resolves rel inside dir. Absolute paths and any ".." segment are
// rejected before joining.
func safeJoin(dir, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", ErrInvalidResource
	}
	for _, seg := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", ErrInvalidResource
		}
	}
	return filepath.Join(dir, filepath.Clean(rel)), nil
}
