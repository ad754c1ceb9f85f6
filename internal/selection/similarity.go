package selection

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	urlRe         = regexp.MustCompile(`https?://\S+`)
	punctuationRe = regexp.MustCompile(`[.,!?;:"'«»“”‘’()\[\]…–-]+`)
	wordRe        = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// NormalizeContent standardizes text for comparison: lower case, URLs and
// punctuation stripped, whitespace collapsed.
func NormalizeContent(content string) string {
	normalized := strings.ToLower(content)
	normalized = urlRe.ReplaceAllString(normalized, " ")
	normalized = punctuationRe.ReplaceAllString(normalized, " ")
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// ContentHash fingerprints an item's normalized title and body. Two items
// with the same hash are exact duplicates.
func ContentHash(item models.RawItem) string {
	data := NormalizeContent(item.Title) + "|" + NormalizeContent(item.Body)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ItemFingerprint identifies the story an item reports on across runs. The
// canonical URL is preferred; items without one fall back to the title.
func ItemFingerprint(item models.RawItem) string {
	key := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(item.URL)), "/")
	if key == "" {
		key = "title:" + NormalizeContent(item.Title)
	}
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}

// TopicFingerprints returns the fingerprints of every item in a topic.
func TopicFingerprints(topic models.Topic) []string {
	fingerprints := make([]string, 0, len(topic.Items))
	for _, item := range topic.Items {
		fingerprints = append(fingerprints, ItemFingerprint(item))
	}
	return fingerprints
}

// tokenize splits normalized text into words, dropping stop-words and
// tokens shorter than three characters.
func tokenize(s string) []string {
	words := wordRe.FindAllString(NormalizeContent(s), -1)
	tokens := words[:0]
	for _, w := range words {
		if len([]rune(w)) < 3 || isStopWord(w) {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range tokenize(s) {
		set[token] = struct{}{}
	}
	return set
}

// jaccardSimilarity computes the Jaccard coefficient of two token sets.
func jaccardSimilarity(set1, set2 map[string]struct{}) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for token := range set1 {
		if _, ok := set2[token]; ok {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	return float64(intersection) / float64(union)
}

// Similarity compares two texts, 0.0 meaning unrelated and 1.0 identical vocabulary.
func Similarity(a, b string) float64 {
	return jaccardSimilarity(tokenSet(a), tokenSet(b))
}
