package models

// Topic is a story selected for drafting. Items carries the raw content the
// topic was built from; Sources lists the distinct source names behind it.
type Topic struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Keywords []string  `json:"keywords,omitempty"`
	Items    []RawItem `json:"items,omitempty"`
	Sources  []string  `json:"sources,omitempty"`
	Score    float64   `json:"score"`
	AdHoc    bool      `json:"ad_hoc,omitempty"` // supplied by an interactive request
}

// SourceURLs returns the origin URLs of the supporting items, deduplicated in order.
func (t Topic) SourceURLs() []string {
	seen := make(map[string]bool, len(t.Items))
	urls := make([]string, 0, len(t.Items))
	for _, item := range t.Items {
		if item.URL == "" || seen[item.URL] {
			continue
		}
		seen[item.URL] = true
		urls = append(urls, item.URL)
	}
	return urls
}

// GeneratedItem is a drafted article ready for delivery.
type GeneratedItem struct {
	Topic            Topic    `json:"topic"`
	Draft            string   `json:"draft"`
	WordCount        int      `json:"word_count"`
	Illustration     []byte   `json:"-"`
	IllustrationMIME string   `json:"illustration_mime,omitempty"`
	SourceURLs       []string `json:"source_urls,omitempty"`
	// Degraded is set when the illustration failed and the text was kept.
	Degraded bool `json:"degraded,omitempty"`
}

// HasIllustration reports whether image bytes are attached.
func (g GeneratedItem) HasIllustration() bool {
	return len(g.Illustration) > 0
}
