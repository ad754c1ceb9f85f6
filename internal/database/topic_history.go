package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/selection"
)

// DefaultHistoryRetention is how long a delivered story stays excluded.
const DefaultHistoryRetention = 14 * 24 * time.Hour

const historyTable = "topic_history"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// historyEntry is one fingerprint of a delivered topic.
type historyEntry struct {
	Fingerprint string
	TopicID     string
	Title       string
}

func historyEntries(topics []models.Topic) []historyEntry {
	var entries []historyEntry
	for _, topic := range topics {
		for _, fp := range selection.TopicFingerprints(topic) {
			entries = append(entries, historyEntry{Fingerprint: fp, TopicID: topic.ID, Title: topic.Title})
		}
	}
	return entries
}

// TopicHistoryRepository stores fingerprints of delivered topics in Postgres.
type TopicHistoryRepository struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// NewTopicHistoryRepository creates a new topic history repository.
func NewTopicHistoryRepository(db *sql.DB, retention time.Duration) *TopicHistoryRepository {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	return &TopicHistoryRepository{db: db, retention: retention, now: time.Now}
}

func publishedQuery(since time.Time) sq.SelectBuilder {
	return psql.Select("fingerprint").
		From(historyTable).
		Where(sq.GtOrEq{"delivered_at": since})
}

func recordQuery(runID string, deliveredAt time.Time, entries []historyEntry) sq.InsertBuilder {
	insert := psql.Insert(historyTable).
		Columns("fingerprint", "topic_id", "title", "run_id", "delivered_at")
	for _, e := range entries {
		insert = insert.Values(e.Fingerprint, e.TopicID, e.Title, runID, deliveredAt)
	}
	return insert.Suffix("ON CONFLICT (fingerprint) DO UPDATE SET run_id = EXCLUDED.run_id, delivered_at = EXCLUDED.delivered_at")
}

// Published returns fingerprints delivered within the retention window.
func (r *TopicHistoryRepository) Published(ctx context.Context) (map[string]struct{}, error) {
	query, args, err := publishedQuery(r.now().Add(-r.retention)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build published query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topic history: %w", err)
	}
	defer rows.Close()

	published := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		published[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return published, nil
}

// Record upserts the fingerprints of delivered topics.
func (r *TopicHistoryRepository) Record(ctx context.Context, runID string, topics []models.Topic) error {
	entries := historyEntries(topics)
	if len(entries) == 0 {
		return nil
	}

	query, args, err := recordQuery(runID, r.now(), entries).ToSql()
	if err != nil {
		return fmt.Errorf("build record query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record topic history: %w", err)
	}
	return nil
}

// Prune deletes entries older than the retention window.
func (r *TopicHistoryRepository) Prune(ctx context.Context) (int64, error) {
	query, args, err := psql.Delete(historyTable).
		Where(sq.Lt{"delivered_at": r.now().Add(-r.retention)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune topic history: %w", err)
	}
	return res.RowsAffected()
}

// MemoryTopicHistory keeps the topic history in process memory. It is used
// when no database is configured and is lost on restart.
type MemoryTopicHistory struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

// NewMemoryTopicHistory creates an empty in-memory history.
func NewMemoryTopicHistory(retention time.Duration) *MemoryTopicHistory {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	return &MemoryTopicHistory{entries: make(map[string]time.Time), retention: retention, now: time.Now}
}

// Published returns fingerprints delivered within the retention window.
func (m *MemoryTopicHistory) Published(context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	since := m.now().Add(-m.retention)
	published := make(map[string]struct{}, len(m.entries))
	for fp, at := range m.entries {
		if at.Before(since) {
			delete(m.entries, fp)
			continue
		}
		published[fp] = struct{}{}
	}
	return published, nil
}

// Record stores the fingerprints of delivered topics.
func (m *MemoryTopicHistory) Record(_ context.Context, _ string, topics []models.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, e := range historyEntries(topics) {
		m.entries[e.Fingerprint] = now
	}
	return nil
}
