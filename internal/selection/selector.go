package selection

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// Config tunes topic selection.
type Config struct {
	MinTopics           int // advisory; Select never pads, the supervisor warns on a shortfall
	MaxTopics           int
	SimilarityThreshold float64
	RecencyHalfLife     time.Duration
	SourceWeight        float64 // per additional distinct source
	SpecializedBonus    float64
	KeywordWeight       float64 // per configured keyword present
	Keywords            []string
	SummaryLength       int // runes
}

// DefaultConfig returns the selection defaults used by the daily run.
func DefaultConfig() Config {
	return Config{
		MinTopics:           3,
		MaxTopics:           5,
		SimilarityThreshold: 0.35,
		RecencyHalfLife:     24 * time.Hour,
		SourceWeight:        0.5,
		SpecializedBonus:    0.5,
		KeywordWeight:       0.2,
		Keywords: []string{
			"sicilia", "siciliano", "siciliana", "ricetta", "vino", "cantina",
			"ristorante", "chef", "sagra", "street", "food", "dop", "igp",
		},
		SummaryLength: 400,
	}
}

type candidate struct {
	item   models.RawItem
	tokens map[string]struct{}
}

type cluster struct {
	members []candidate
	score   float64
	title   string
	id      string
}

// Select groups items into topics and returns at most cfg.MaxTopics of them,
// best first. Items whose fingerprint is in exclude are ignored. The result
// depends only on the arguments.
func Select(items []models.RawItem, cfg Config, exclude map[string]struct{}) []models.Topic {
	if cfg.MaxTopics <= 0 || len(items) == 0 {
		return nil
	}

	candidates := canonicalize(items, exclude)
	if len(candidates) == 0 {
		return nil
	}

	clusters := groupBySimilarity(candidates, cfg.SimilarityThreshold)

	newest := candidates[0].item.PublishedAt
	for _, c := range clusters {
		c.title = c.members[0].item.Title
		c.id = clusterID(c.members)
		c.score = scoreCluster(c, newest, cfg)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].score != clusters[j].score {
			return clusters[i].score > clusters[j].score
		}
		if clusters[i].title != clusters[j].title {
			return clusters[i].title < clusters[j].title
		}
		return clusters[i].id < clusters[j].id
	})

	limit := cfg.MaxTopics
	if len(clusters) < limit {
		limit = len(clusters)
	}

	topics := make([]models.Topic, 0, limit)
	for _, c := range clusters[:limit] {
		topics = append(topics, buildTopic(c, cfg))
	}
	return topics
}

// canonicalize drops excluded items and exact duplicates, then orders the
// rest newest first with ID as tie-breaker.
func canonicalize(items []models.RawItem, exclude map[string]struct{}) []candidate {
	sorted := append([]models.RawItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].PublishedAt.Equal(sorted[j].PublishedAt) {
			return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	seenHash := make(map[string]struct{}, len(sorted))
	seenURL := make(map[string]struct{}, len(sorted))
	candidates := make([]candidate, 0, len(sorted))

	for _, item := range sorted {
		if _, skip := exclude[ItemFingerprint(item)]; skip {
			continue
		}

		hash := ContentHash(item)
		if _, dup := seenHash[hash]; dup {
			continue
		}
		if item.URL != "" {
			if _, dup := seenURL[item.URL]; dup {
				continue
			}
			seenURL[item.URL] = struct{}{}
		}
		seenHash[hash] = struct{}{}

		candidates = append(candidates, candidate{
			item:   item,
			tokens: tokenSet(item.Title + " " + item.Body),
		})
	}

	return candidates
}

// groupBySimilarity performs greedy single-link clustering: each candidate
// joins the first earlier cluster containing a member at or above threshold.
func groupBySimilarity(candidates []candidate, threshold float64) []*cluster {
	var clusters []*cluster

	for _, cand := range candidates {
		var home *cluster
		for _, c := range clusters {
			for _, member := range c.members {
				if jaccardSimilarity(cand.tokens, member.tokens) >= threshold {
					home = c
					break
				}
			}
			if home != nil {
				break
			}
		}

		if home == nil {
			clusters = append(clusters, &cluster{members: []candidate{cand}})
			continue
		}
		home.members = append(home.members, cand)
	}

	return clusters
}

// scoreCluster adds recency, measured against the newest input item, to
// relevance: source coverage, specialized outlets and keyword hits.
func scoreCluster(c *cluster, newest time.Time, cfg Config) float64 {
	age := newest.Sub(c.members[0].item.PublishedAt)
	if age < 0 {
		age = 0
	}

	recency := 1.0
	if cfg.RecencyHalfLife > 0 {
		recency = math.Exp2(-age.Hours() / cfg.RecencyHalfLife.Hours())
	}

	sourceSet := make(map[string]struct{})
	specialized := false
	tokens := make(map[string]struct{})
	for _, m := range c.members {
		sourceSet[m.item.Source] = struct{}{}
		if m.item.Category == models.SourceCategorySpecialized {
			specialized = true
		}
		for t := range m.tokens {
			tokens[t] = struct{}{}
		}
	}

	relevance := cfg.SourceWeight * float64(len(sourceSet)-1)
	if specialized {
		relevance += cfg.SpecializedBonus
	}
	for _, kw := range cfg.Keywords {
		if _, ok := tokens[strings.ToLower(kw)]; ok {
			relevance += cfg.KeywordWeight
		}
	}

	return recency + relevance
}

func clusterID(members []candidate) string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.item.ID)
	}
	sort.Strings(ids)

	hash := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return "topic-" + hex.EncodeToString(hash[:6])
}

func buildTopic(c *cluster, cfg Config) models.Topic {
	lead := c.members[0].item
	summary := ""
	for _, m := range c.members {
		if strings.TrimSpace(m.item.Body) != "" {
			summary = m.item.Body
			break
		}
	}

	items := make([]models.RawItem, 0, len(c.members))
	texts := make([]string, 0, len(c.members))
	var sourceNames []string
	seen := make(map[string]struct{})
	for _, m := range c.members {
		items = append(items, m.item)
		texts = append(texts, m.item.Title+" "+m.item.Body)
		if _, ok := seen[m.item.Source]; !ok {
			seen[m.item.Source] = struct{}{}
			sourceNames = append(sourceNames, m.item.Source)
		}
	}

	return models.Topic{
		ID:       c.id,
		Title:    lead.Title,
		Summary:  truncateRunes(summary, cfg.SummaryLength),
		Keywords: topKeywords(texts, 5),
		Items:    items,
		Sources:  sourceNames,
		Score:    c.score,
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if max <= 0 || len(runes) <= max {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
