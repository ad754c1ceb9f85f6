package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

func deliveredTopic() models.Topic {
	return models.Topic{
		ID:    "topic-1",
		Title: "Sagra del pistacchio",
		Items: []models.RawItem{
			{ID: "a", Title: "Sagra del pistacchio", URL: "https://balarm.it/food/sagra-pistacchio"},
			{ID: "b", Title: "Bronte e il pistacchio", URL: "https://cronachedigusto.it/bronte/"},
		},
	}
}

func TestMemoryTopicHistory(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	h := NewMemoryTopicHistory(48 * time.Hour)
	h.now = func() time.Time { return now }
	ctx := context.Background()

	if err := h.Record(ctx, "run-1", []models.Topic{deliveredTopic(), {ID: "adhoc-1", Title: "cannoli", AdHoc: true}}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	published, err := h.Published(ctx)
	if err != nil {
		t.Fatalf("Published returned error: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("expected 2 fingerprints, got %d", len(published))
	}

	now = now.Add(72 * time.Hour)
	published, _ = h.Published(ctx)
	if len(published) != 0 {
		t.Errorf("entries older than the retention window should expire, got %d", len(published))
	}
}

func TestPublishedQuery(t *testing.T) {
	since := time.Date(2025, 5, 19, 0, 0, 0, 0, time.UTC)
	query, args, err := publishedQuery(since).ToSql()
	if err != nil {
		t.Fatalf("ToSql returned error: %v", err)
	}

	want := "SELECT fingerprint FROM topic_history WHERE delivered_at >= $1"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 1 || args[0] != since {
		t.Errorf("unexpected args %v", args)
	}
}

func TestRecordQuery(t *testing.T) {
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	query, args, err := recordQuery("run-1", at, historyEntries([]models.Topic{deliveredTopic()})).ToSql()
	if err != nil {
		t.Fatalf("ToSql returned error: %v", err)
	}

	if !strings.HasPrefix(query, "INSERT INTO topic_history (fingerprint,topic_id,title,run_id,delivered_at) VALUES ($1,$2,$3,$4,$5),($6,$7,$8,$9,$10)") {
		t.Errorf("unexpected query %q", query)
	}
	if !strings.HasSuffix(query, "ON CONFLICT (fingerprint) DO UPDATE SET run_id = EXCLUDED.run_id, delivered_at = EXCLUDED.delivered_at") {
		t.Errorf("missing upsert clause: %q", query)
	}
	if len(args) != 10 || args[3] != "run-1" || args[1] != "topic-1" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestMigrationsAreOrderedAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i, m := range Migrations {
		if seen[m.Version] {
			t.Errorf("duplicate migration %s", m.Version)
		}
		seen[m.Version] = true
		if i > 0 && Migrations[i-1].Version >= m.Version {
			t.Errorf("migrations out of order at %s", m.Version)
		}
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("empty migration %s", m.Version)
		}
	}
}
