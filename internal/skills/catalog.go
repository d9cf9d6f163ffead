package skills

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const maxResourceBytes = 1 << 20

// Catalog reads skills from one or more root directories. Earlier roots win
// when two roots define the same skill. Parsed skills are cached by file
// content hash, so edits on disk are picked up on the next load.
type Catalog struct {
	roots  []string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]entry // key: SKILL.md path
}

func NewCatalog(roots []string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{roots: roots, logger: logger, cache: make(map[string]entry)}
}

// Registry lists every valid skill sorted by name. Invalid skill files are
// logged and skipped.
func (c *Catalog) Registry() []Summary {
	seen := make(map[string]bool)
	var out []Summary
	for _, root := range c.roots {
		dirs, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				c.logger.Warn("Failed to read skill root", zap.String("root", root), zap.Error(err))
			}
			continue
		}
		for _, d := range dirs {
			if !d.IsDir() || seen[d.Name()] {
				continue
			}
			path := filepath.Join(root, d.Name(), SkillFile)
			skill, err := c.loadFile(path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					c.logger.Warn("Skipping invalid skill", zap.String("path", path), zap.Error(err))
				}
				continue
			}
			if skill.Name != d.Name() {
				c.logger.Warn("Skill name does not match its directory",
					zap.String("path", path),
					zap.String("name", skill.Name),
				)
				continue
			}
			seen[d.Name()] = true
			out = append(out, Summary{Name: skill.Name, Description: skill.Description})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadSkill returns the full skill, or (nil, nil) when no skill by that
// name exists. The name is reduced to [A-Za-z0-9_-] before lookup.
func (c *Catalog) LoadSkill(name string) (*Skill, error) {
	dir, ok := c.locate(name)
	if !ok {
		return nil, nil
	}
	skill, err := c.loadFile(filepath.Join(dir, SkillFile))
	if err != nil {
		return nil, fmt.Errorf("load skill %s: %w", SanitizeName(name), err)
	}
	cp := *skill
	cp.Tools = append([]string{}, skill.Tools...)
	return &cp, nil
}

// ReadResource returns a file bundled with a skill. Paths are relative to
// the skill directory; absolute paths and ".." segments are rejected.
func (c *Catalog) ReadResource(skill, path string) (string, error) {
	dir, ok := c.locate(skill)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSkillNotFound, SanitizeName(skill))
	}
	full, err := safeJoin(dir, path)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, path)
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("read resource %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %q is a directory", ErrInvalidResource, path)
	}
	if info.Size() > maxResourceBytes {
		return "", fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidResource, path, maxResourceBytes)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read resource %s: %w", path, err)
	}
	return string(data), nil
}

// ListResources lists files under the skill's references directory as
// paths relative to the skill directory, sorted.
func (c *Catalog) ListResources(skill string) ([]string, error) {
	dir, ok := c.locate(skill)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, SanitizeName(skill))
	}
	base := filepath.Join(dir, ResourceDir)
	out := []string{}
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == base {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list resources for %s: %w", skill, err)
	}
	sort.Strings(out)
	return out, nil
}

// locate finds the directory of a skill across the roots
func (c *Catalog) locate(name string) (string, bool) {
	clean := SanitizeName(name)
	if clean == "" {
		return "", false
	}
	for _, root := range c.roots {
		dir := filepath.Join(root, clean)
		if info, err := os.Stat(filepath.Join(dir, SkillFile)); err == nil && !info.IsDir() {
			return dir, true
		}
	}
	return "", false
}

func (c *Catalog) loadFile(path string) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	hash := contentHash(content)

	c.mu.RLock()
	cached, ok := c.cache[path]
	c.mu.RUnlock()
	if ok && cached.contentHash == hash {
		return cached.skill, nil
	}

	skill, err := Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[path] = entry{skill: skill, contentHash: hash}
	c.mu.Unlock()
	c.logger.Debug("Skill parsed", zap.String("name", skill.Name), zap.String("path", path))
	return skill, nil
}
