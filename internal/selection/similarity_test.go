package selection

import (
	"reflect"
	"testing"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  Arancine   DI  Palermo ", "arancine di palermo"},
		{"Leggi su https://balarm.it/food oggi", "leggi su oggi"},
		{"Dell'Etna: vendemmia «record»!", "dell etna vendemmia record"},
	}

	for _, tt := range tests {
		if got := NormalizeContent(tt.input); got != tt.expected {
			t.Errorf("NormalizeContent(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestContentHashIgnoresFormatting(t *testing.T) {
	a := models.RawItem{Title: "Sagra del Pistacchio!", Body: "Bronte,  ottobre"}
	b := models.RawItem{Title: "sagra del pistacchio", Body: "bronte ottobre", URL: "https://other"}
	c := models.RawItem{Title: "Sagra del pistacchio", Body: "Bronte novembre"}

	if ContentHash(a) != ContentHash(b) {
		t.Error("formatting differences should not change the hash")
	}
	if ContentHash(a) == ContentHash(c) {
		t.Error("different content should change the hash")
	}
}

func TestItemFingerprint(t *testing.T) {
	a := models.RawItem{URL: "https://Balarm.it/food/arancine/"}
	b := models.RawItem{URL: "https://balarm.it/food/arancine", Title: "diverso"}
	if ItemFingerprint(a) != ItemFingerprint(b) {
		t.Error("fingerprints should ignore case and trailing slash")
	}

	noURL := models.RawItem{Title: "Granita al gelso"}
	if ItemFingerprint(noURL) == ItemFingerprint(models.RawItem{Title: "Pesce spada"}) {
		t.Error("title fallback should distinguish stories")
	}

	topic := models.Topic{Items: []models.RawItem{a, noURL}}
	if got := TopicFingerprints(topic); len(got) != 2 || got[0] != ItemFingerprint(a) {
		t.Errorf("unexpected topic fingerprints %v", got)
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("sagra pistacchio Bronte", "Bronte: sagra del pistacchio"); got != 1.0 {
		t.Errorf("same vocabulary should be 1.0, got %v", got)
	}
	if got := Similarity("sagra pistacchio", "vendemmia etna"); got != 0.0 {
		t.Errorf("unrelated text should be 0.0, got %v", got)
	}
	if got := Similarity("", ""); got != 1.0 {
		t.Errorf("two empty texts should be 1.0, got %v", got)
	}
	if got := Similarity("sagra pistacchio bronte verde", "sagra pistacchio etna"); got != 0.4 {
		t.Errorf("expected 2/5 overlap, got %v", got)
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("Il cannolo e il cannolo della tradizione di Piana degli Albanesi", 0)
	want := []string{"cannolo", "tradizione", "piana", "albanesi"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}

	if got := ExtractKeywords("arancine caponata cassata granita", 2); len(got) != 2 {
		t.Errorf("max not honoured: %v", got)
	}
}

func TestRequestKeywords(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Arancine al ragù di Palermo", []string{"arancine", "ragù", "palermo", "Sicilia"}},
		{"la cucina della Sicilia orientale", []string{"cucina", "sicilia", "orientale"}},
		{"cassata cannoli arancine caponata granita brioche", []string{"cassata", "cannoli", "arancine", "caponata", "Sicilia"}},
	}

	for _, tt := range tests {
		if got := RequestKeywords(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("RequestKeywords(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
