package skills

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxSkillBytes = 2 << 20

var fence = []byte("---")

// Parse reads a SKILL.md document: a "---" fenced YAML header followed by
// the markdown instructions.
func Parse(reader io.Reader) (*Skill, error) {
	raw, err := io.ReadAll(io.LimitReader(reader, maxSkillBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	if len(raw) > maxSkillBytes {
		return nil, fmt.Errorf("skill file exceeds %d bytes", maxSkillBytes)
	}
	header, body, err := splitFrontmatter(raw)
	if err != nil {
		return nil, err
	}

	var skill Skill
	if err := yaml.Unmarshal(header, &skill); err != nil {
		return nil, fmt.Errorf("parse skill frontmatter: %w", err)
	}
	skill.Instructions = strings.TrimSpace(string(body))
	if err := validateSkill(&skill); err != nil {
		return nil, err
	}
	return &skill, nil
}

// splitFrontmatter returns the YAML between the first two fence lines and
// everything after the closing fence.
func splitFrontmatter(raw []byte) (header, body []byte, err error) {
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, errors.New("skill file is empty")
	}
	first, rest, _ := bytes.Cut(raw, []byte("\n"))
	if !bytes.Equal(bytes.TrimSpace(first), fence) {
		return nil, nil, fmt.Errorf("skill file must open with a --- frontmatter fence, got %q", first)
	}
	for off := 0; off < len(rest); {
		line, _, _ := bytes.Cut(rest[off:], []byte("\n"))
		if bytes.Equal(bytes.TrimSpace(line), fence) {
			end := off + len(line)
			if end < len(rest) {
				end++
			}
			return rest[:off], rest[end:], nil
		}
		off += len(line) + 1
	}
	return nil, nil, errors.New("skill frontmatter is not closed by ---")
}

func validateSkill(skill *Skill) error {
	skill.Name = strings.TrimSpace(skill.Name)
	skill.Description = strings.TrimSpace(skill.Description)
	switch {
	case skill.Name == "":
		return errors.New("skill name is required")
	case skill.Description == "":
		return fmt.Errorf("skill %s: description is required", skill.Name)
	case SanitizeName(skill.Name) != skill.Name:
		return fmt.Errorf("skill name %q may only use letters, digits, - and _", skill.Name)
	}
	if skill.Tools == nil {
		skill.Tools = []string{}
	}
	if skill.Version == "" {
		skill.Version = "1.0.0"
	}
	return nil
}

// SanitizeName keeps only [A-Za-z0-9_-], which also strips path separators
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func contentHash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
