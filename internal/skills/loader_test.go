package skills

import (
	"strings"
	"testing"
)

func TestParse_ValidFile(t *testing.T) {
	content := `---
name: negotiation
description: Handles offers and counter-offers
version: 1.2.0
tools:
  - calculate_offer_range
  - log_activity
programmatic: true
---

# Negotiation

Never reveal the owner's bottom line.
`

	skill, err := Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if skill.Name != "negotiation" {
		t.Errorf("Expected name 'negotiation', got '%s'", skill.Name)
	}
	if skill.Version != "1.2.0" {
		t.Errorf("Expected version '1.2.0', got '%s'", skill.Version)
	}
	if len(skill.Tools) != 2 || skill.Tools[0] != "calculate_offer_range" {
		t.Errorf("Unexpected tools: %v", skill.Tools)
	}
	if !skill.Programmatic {
		t.Error("Expected programmatic=true")
	}
	if !strings.HasPrefix(skill.Instructions, "# Negotiation") {
		t.Errorf("Unexpected instructions: %q", skill.Instructions)
	}
}

func TestParse_Defaults(t *testing.T) {
	content := `---
name: follow_up
description: Gentle follow-ups
---
`
	skill, err := Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if skill.Tools == nil || len(skill.Tools) != 0 {
		t.Errorf("Expected empty tool list, got %v", skill.Tools)
	}
	if skill.Version != "1.0.0" {
		t.Errorf("Expected default version, got '%s'", skill.Version)
	}
	if skill.Instructions != "" {
		t.Errorf("Expected empty instructions, got %q", skill.Instructions)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"empty file":          "",
		"no frontmatter":      "# Just markdown\n",
		"unterminated":        "---\nname: x\ndescription: y\n",
		"missing name":        "---\ndescription: y\n---\nbody\n",
		"missing description": "---\nname: x\n---\nbody\n",
		"invalid name":        "---\nname: ../etc\ndescription: y\n---\nbody\n",
		"bad yaml":            "---\nname: [unclosed\n---\nbody\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(content)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"property_search": "property_search",
		"../../etc":       "etc",
		"lead qualif!":    "leadqualif",
		"viewing-coord":   "viewing-coord",
		"":                "",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
