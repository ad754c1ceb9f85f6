package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

func TestDefaultsBuildValidRegistry(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}

	if reg.Len() != 8 {
		t.Fatalf("expected 8 default sources, got %d", reg.Len())
	}

	general, specialized := 0, 0
	for _, src := range reg.Sources() {
		switch src.Category {
		case models.SourceCategoryGeneral:
			general++
		case models.SourceCategorySpecialized:
			specialized++
		}
	}
	if general != 4 || specialized != 4 {
		t.Errorf("expected 4/4 split, got %d general %d specialized", general, specialized)
	}
}

func TestRegistryPreservesOrderAndLookup(t *testing.T) {
	reg, err := New([]models.Source{
		{Name: "b", Category: models.SourceCategoryGeneral, URL: "https://b.example"},
		{Name: "a", Category: models.SourceCategorySpecialized, URL: "https://a.example/feed", Kind: models.SourceKindFeed},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	list := reg.Sources()
	if list[0].Name != "b" || list[1].Name != "a" {
		t.Errorf("registry order not preserved: %v", list)
	}
	if list[0].Kind != models.SourceKindPage {
		t.Errorf("kind should default to page, got %q", list[0].Kind)
	}
	if reg.Index("a") != 1 || reg.Index("missing") != -1 {
		t.Errorf("unexpected Index results")
	}

	src, ok := reg.Lookup("a")
	if !ok || src.Kind != models.SourceKindFeed {
		t.Errorf("Lookup(a) = %v, %v", src, ok)
	}

	list[0].Name = "mutated"
	if reg.Sources()[0].Name != "b" {
		t.Error("Sources() must return a copy")
	}
}

func TestNewRejectsInvalidSources(t *testing.T) {
	tests := map[string][]models.Source{
		"missing name":   {{Category: models.SourceCategoryGeneral, URL: "https://x.example"}},
		"duplicate name": {{Name: "x", Category: models.SourceCategoryGeneral, URL: "https://x.example"}, {Name: "x", Category: models.SourceCategoryGeneral, URL: "https://y.example"}},
		"bad category":   {{Name: "x", Category: "blog", URL: "https://x.example"}},
		"bad kind":       {{Name: "x", Category: models.SourceCategoryGeneral, URL: "https://x.example", Kind: "api"}},
		"relative url":   {{Name: "x", Category: models.SourceCategoryGeneral, URL: "/food"}},
	}

	for name, list := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New(list); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	content := `
sources:
  - name: Balarm
    category: general
    url: https://balarm.it/food
  - name: Cronache di Gusto
    category: specialized
    url: https://cronachedigusto.it/feed/
    kind: feed
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 sources, got %d", reg.Len())
	}
	if src, _ := reg.Lookup("Cronache di Gusto"); src.Kind != models.SourceKindFeed {
		t.Errorf("expected feed kind, got %q", src.Kind)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("sources: []\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := LoadFile(empty)
	if err == nil || !strings.Contains(err.Error(), "no sources") {
		t.Errorf("expected 'no sources' error, got %v", err)
	}
}
