package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/retry"
	"github.com/allfoodsicily/draftdesk/internal/sources"
)

// CollectorConfig holds configuration for the source collector.
type CollectorConfig struct {
	ConcurrentFetches int           // 0 means one slot per source
	FetchTimeout      time.Duration // per source, covering all retry attempts
	RetryPolicy       retry.Policy
}

// DefaultCollectorConfig returns sensible defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		FetchTimeout: 60 * time.Second,
		RetryPolicy:  retry.DefaultPolicy(),
	}
}

// CollectResult is the outcome of one collection pass.
type CollectResult struct {
	Items     []models.RawItem
	Failures  []models.FailureRecord
	Attempted int
}

// SucceededSources returns the number of sources that did not fail.
func (r CollectResult) SucceededSources() int {
	return r.Attempted - len(r.Failures)
}

// Collector fetches every registered source concurrently, isolating failures
// so that one bad source never aborts the pass.
type Collector struct {
	fetcher Fetcher
	logger  *slog.Logger
	config  CollectorConfig
}

// NewCollector creates a new collector.
func NewCollector(fetcher Fetcher, logger *slog.Logger, config CollectorConfig) *Collector {
	if config.ConcurrentFetches < 0 {
		config.ConcurrentFetches = 0
	}
	return &Collector{
		fetcher: fetcher,
		logger:  logger,
		config:  config,
	}
}

type sourceOutcome struct {
	index int
	items []models.RawItem
	err   error
}

// Collect fetches all sources in reg. Items are returned grouped in registry
// order regardless of completion order; every failed source yields exactly
// one failure record.
//
// A fetch that outlives its deadline is abandoned and recorded as a timeout,
// so a fetcher that ignores its context cannot hold back the other sources.
func (c *Collector) Collect(ctx context.Context, reg *sources.Registry) CollectResult {
	list := reg.Sources()
	outcomes := make(chan sourceOutcome, len(list))

	slots := c.config.ConcurrentFetches
	if slots == 0 || slots > len(list) {
		slots = len(list)
	}
	semaphore := make(chan struct{}, max(slots, 1))

	for i, src := range list {
		go func(index int, src models.Source) {
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				outcomes <- sourceOutcome{index: index, err: models.NewError(models.ErrorKindTimeout, "fetch "+src.Name,
					fmt.Errorf("no fetch slot before the deadline: %w", ctx.Err()))}
				return
			}
			defer func() { <-semaphore }()

			items, err := c.fetchSource(ctx, src)
			outcomes <- sourceOutcome{index: index, items: items, err: err}
		}(i, src)
	}

	perSource := make([][]models.RawItem, len(list))
	errs := make([]error, len(list))
	received := make([]bool, len(list))
	record := func(outcome sourceOutcome) {
		perSource[outcome.index] = outcome.items
		errs[outcome.index] = outcome.err
		received[outcome.index] = true
	}

	pending := len(list)
collect:
	for pending > 0 {
		select {
		case outcome := <-outcomes:
			record(outcome)
			pending--
		case <-ctx.Done():
			c.logger.Warn("collection interrupted", "pending", pending, "error", ctx.Err())
			break collect
		}
	}

	// Keep whatever already arrived.
drain:
	for pending > 0 {
		select {
		case outcome := <-outcomes:
			record(outcome)
			pending--
		default:
			break drain
		}
	}

	result := CollectResult{Attempted: len(list)}
	for i, src := range list {
		err := errs[i]
		if !received[i] {
			err = models.NewError(models.ErrorKindTimeout, "fetch "+src.Name, fmt.Errorf("collection ended before the source answered: %w", ctx.Err()))
		}
		if err != nil {
			kind := models.KindOf(err)
			c.logger.Warn("source fetch failed",
				"source", src.Name,
				"kind", kind,
				"attempts", models.AttemptsOf(err),
				"error", err,
			)
			result.Failures = append(result.Failures, models.FailureRecord{
				Stage:    models.StageCollect,
				Identity: src.Name,
				Kind:     kind,
				Message:  err.Error(),
			})
			continue
		}

		c.logger.Debug("source fetched", "source", src.Name, "items", len(perSource[i]))
		result.Items = append(result.Items, perSource[i]...)
	}

	c.logger.Info("collection finished",
		"sources", result.Attempted,
		"failed", len(result.Failures),
		"items", len(result.Items),
	)

	return result
}

// fetchSource runs one source under its own deadline. When the deadline
// passes before the fetcher returns, the call is abandoned and a timeout is
// reported in its place.
func (c *Collector) fetchSource(ctx context.Context, src models.Source) ([]models.RawItem, error) {
	op := "fetch " + src.Name

	if c.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.FetchTimeout)
		defer cancel()
	}

	done := make(chan sourceOutcome, 1)
	go func() {
		items, err := c.fetchWithRetry(ctx, op, src)
		done <- sourceOutcome{items: items, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.items, outcome.err
	case <-ctx.Done():
		select {
		case outcome := <-done:
			return outcome.items, outcome.err
		default:
		}
		return nil, models.NewError(models.ErrorKindTimeout, op, fmt.Errorf("source abandoned: %w", ctx.Err()))
	}
}

// fetchWithRetry applies the retry policy to one source. A panicking fetcher
// is converted into an unknown failure.
func (c *Collector) fetchWithRetry(ctx context.Context, op string, src models.Source) (items []models.RawItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = models.NewError(models.ErrorKindUnknown, op, fmt.Errorf("fetcher panic: %v", r))
		}
	}()

	items, err = retry.Do(ctx, c.config.RetryPolicy, op, func(ctx context.Context) ([]models.RawItem, error) {
		return c.fetcher.Fetch(ctx, src)
	})
	if err != nil {
		return nil, err
	}

	for i := range items {
		if items[i].Source == "" {
			items[i].Source = src.Name
		}
		if items[i].Category == "" {
			items[i].Category = src.Category
		}
	}

	return items, nil
}
