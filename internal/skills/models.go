// Package skills implements the markdown skill catalog and skill execution.
//
// A skill lives at <root>/<name>/SKILL.md: YAML frontmatter (name,
// description, tools, programmatic) followed by markdown instructions.
// Optional reference files sit under <root>/<name>/references/. The catalog
// lists skills cheaply from frontmatter and loads instructions on demand.
package skills

import "errors"

// SkillFile is the file name looked up inside each skill directory
const SkillFile = "SKILL.md"

// ResourceDir holds the reference files a skill may read at run time
const ResourceDir = "references"

var (
	ErrSkillNotFound   = errors.New("skill not found")
	ErrInvalidResource = errors.New("invalid resource path")
)

// Skill is a fully loaded skill definition
type Skill struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	Tools        []string `yaml:"tools" json:"tools"`
	Programmatic bool     `yaml:"programmatic" json:"programmatic,omitempty"`
	Version      string   `yaml:"version" json:"version,omitempty"`
	Instructions string   `yaml:"-" json:"instructions"`
}

// Summary is what the registry lists; it never carries instructions
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// entry caches a parsed skill against the hash of its source file
type entry struct {
	skill       *Skill
	contentHash string
}
