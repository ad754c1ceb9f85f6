package selection

import (
	"sort"
	"strings"
)

// italianStopWords covers articles, prepositions and the filler words that
// dominate Italian headlines.
var italianStopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		un una uno il la lo i le gli l
		di da in su per con tra fra a
		e ed o ma se che non come anche piu più
		del della dello dei degli delle dal dalla dallo dai dagli dalle
		al alla allo ai agli alle sul sulla sullo sui sugli sulle
		nel nella nello nei negli nelle col coi
		è sono era essere ha hanno c ci si ne questo questa questi queste
		quello quella quelli quelle suo sua suoi sue loro oggi ieri domani
		dopo prima ecco tutto tutti tutte ogni molto ancora già cosa dove quando
		nuovo nuova nuovi nuove anni anno giorno giorni
	`) {
		italianStopWords[w] = struct{}{}
	}
}

func isStopWord(w string) bool {
	_, ok := italianStopWords[w]
	return ok
}

// ExtractKeywords returns up to max distinct keywords from free text in the
// order they appear.
func ExtractKeywords(text string, max int) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, token := range tokenize(text) {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
		if max > 0 && len(keywords) == max {
			break
		}
	}
	return keywords
}

// RequestKeywords builds the keyword list for a topic requested by an editor:
// the request's own keywords with "Sicilia" always among the first five.
func RequestKeywords(text string) []string {
	keywords := ExtractKeywords(text, 0)
	hasSicilia := false
	for _, k := range keywords {
		if k == "sicilia" {
			hasSicilia = true
			break
		}
	}
	if !hasSicilia {
		if len(keywords) >= 5 {
			keywords = keywords[:4]
		}
		keywords = append(keywords, "Sicilia")
	}
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return keywords
}

// topKeywords ranks tokens by frequency across texts; ties are alphabetical.
func topKeywords(texts []string, max int) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		for token := range tokenSet(text) {
			counts[token]++
		}
	}

	ranked := make([]string, 0, len(counts))
	for token := range counts {
		ranked = append(ranked, token)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}
