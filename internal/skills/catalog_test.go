package skills

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, root, dir, content string) {
	t.Helper()
	path := filepath.Join(root, dir, SkillFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}
}

func newTestCatalog(t *testing.T) (*Catalog, string, string) {
	t.Helper()
	primary := t.TempDir()
	overlay := t.TempDir()

	writeSkill(t, primary, "property_search", `---
name: property_search
description: Finds listings that match the client's brief
tools: [search_properties, store_insight]
---

Search first, then summarise the top three matches.
`)
	writeSkill(t, primary, "negotiation", `---
name: negotiation
description: Handles offers
tools: [calculate_offer_range]
---

Stay calm.
`)
	writeSkill(t, primary, "broken", "no frontmatter here\n")
	writeSkill(t, primary, "renamed", "---\nname: other\ndescription: mismatched\n---\nbody\n")
	writeSkill(t, overlay, "negotiation", "---\nname: negotiation\ndescription: Overlay copy\n---\nbody\n")
	writeSkill(t, overlay, "follow_up", "---\nname: follow_up\ndescription: Follow-ups\n---\nbody\n")

	refs := filepath.Join(primary, "property_search", ResourceDir)
	if err := os.MkdirAll(filepath.Join(refs, "areas"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(refs, "pricing.md"), []byte("Paphos villas: 350-600k"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(refs, "areas", "paphos.md"), []byte("Coastal"), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewCatalog([]string{primary, overlay, filepath.Join(primary, "missing")}, nil), primary, overlay
}

func TestCatalogRegistry(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	got := c.Registry()

	want := []Summary{
		{Name: "follow_up", Description: "Follow-ups"},
		{Name: "negotiation", Description: "Handles offers"},
		{Name: "property_search", Description: "Finds listings that match the client's brief"},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d skills, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("skill %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCatalogLoadSkill(t *testing.T) {
	c, primary, _ := newTestCatalog(t)

	skill, err := c.LoadSkill("property_search")
	if err != nil {
		t.Fatalf("LoadSkill: %v", err)
	}
	if skill == nil || skill.Instructions != "Search first, then summarise the top three matches." {
		t.Fatalf("Unexpected skill: %+v", skill)
	}
	if len(skill.Tools) != 2 {
		t.Errorf("Expected two tools, got %v", skill.Tools)
	}

	// mutations of a returned skill do not leak into the cache
	skill.Tools[0] = "generate_contract"
	again, _ := c.LoadSkill("property_search")
	if again.Tools[0] != "search_properties" {
		t.Errorf("cache was mutated: %v", again.Tools)
	}

	// edits on disk are picked up
	writeSkill(t, primary, "property_search", "---\nname: property_search\ndescription: v2\n---\nNew body\n")
	edited, _ := c.LoadSkill("property_search")
	if edited.Instructions != "New body" {
		t.Errorf("Expected reloaded instructions, got %q", edited.Instructions)
	}

	for _, name := range []string{"unknown", "", "!!!"} {
		s, err := c.LoadSkill(name)
		if err != nil || s != nil {
			t.Errorf("LoadSkill(%q) = %v, %v; want nil, nil", name, s, err)
		}
	}

	// sanitised before lookup
	s, err := c.LoadSkill("property_search!")
	if err != nil || s == nil {
		t.Errorf("Expected sanitised lookup to succeed, got %v, %v", s, err)
	}

	if _, err := c.LoadSkill("broken"); err == nil {
		t.Error("Expected parse error for broken skill")
	}
}

func TestCatalogResources(t *testing.T) {
	c, _, _ := newTestCatalog(t)

	files, err := c.ListResources("property_search")
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(files) != 2 || files[0] != "references/areas/paphos.md" || files[1] != "references/pricing.md" {
		t.Errorf("Unexpected resources: %v", files)
	}

	none, err := c.ListResources("negotiation")
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no resources, got %v, %v", none, err)
	}

	content, err := c.ReadResource("property_search", "references/pricing.md")
	if err != nil || content != "Paphos villas: 350-600k" {
		t.Errorf("ReadResource = %q, %v", content, err)
	}

	for _, bad := range []string{"../negotiation/SKILL.md", "references/../../x", "/etc/passwd", ""} {
		if _, err := c.ReadResource("property_search", bad); !errors.Is(err, ErrInvalidResource) {
			t.Errorf("ReadResource(%q) error = %v, want ErrInvalidResource", bad, err)
		}
	}

	if _, err := c.ReadResource("ghost", "references/a.md"); !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("Expected ErrSkillNotFound, got %v", err)
	}
}

func TestResolveRoots(t *testing.T) {
	t.Setenv(SkillsPathEnvVar, "")
	roots := ResolveRoots("skills")
	if len(roots) != 1 || roots[0] != "skills" {
		t.Errorf("Unexpected roots: %v", roots)
	}

	t.Setenv(SkillsPathEnvVar, "/a"+string(os.PathListSeparator)+" /b/ "+string(os.PathListSeparator))
	roots = ResolveRoots("skills")
	if len(roots) != 2 || roots[0] != "/a" || roots[1] != "/b" {
		t.Errorf("Unexpected roots from env: %v", roots)
	}
}
