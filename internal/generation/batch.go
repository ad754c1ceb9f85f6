package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// ItemGenerator generates a single topic. *Generator implements it.
type ItemGenerator interface {
	Generate(ctx context.Context, topic models.Topic) Result
}

// BatchConfig bounds a batch of generations.
type BatchConfig struct {
	MaxConcurrent int
	Timeout       time.Duration // whole batch; zero disables
}

// DefaultBatchConfig returns sensible defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrent: 3,
		Timeout:       10 * time.Minute,
	}
}

// BatchResult holds generated items and failures, both in topic order.
type BatchResult struct {
	Items    []models.GeneratedItem
	Failures []models.FailureRecord
	TimedOut int
}

// Batch runs the item generator over many topics with bounded concurrency.
type Batch struct {
	generator ItemGenerator
	config    BatchConfig
	logger    *slog.Logger
}

// NewBatch creates a batch generator.
func NewBatch(generator ItemGenerator, config BatchConfig, logger *slog.Logger) *Batch {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return &Batch{generator: generator, config: config, logger: logger}
}

type indexedResult struct {
	index  int
	result Result
}

// Run generates every topic. When the batch timeout fires, topics that have
// not finished are recorded as timeout failures and Run returns without
// waiting for them.
func (b *Batch) Run(ctx context.Context, topics []models.Topic) BatchResult {
	if len(topics) == 0 {
		return BatchResult{}
	}

	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	// Buffered so that stragglers can always complete their send.
	results := make(chan indexedResult, len(topics))
	semaphore := make(chan struct{}, b.config.MaxConcurrent)

	for i, topic := range topics {
		go func(index int, topic models.Topic) {
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-semaphore }()

			results <- indexedResult{index: index, result: b.generateSafely(ctx, topic)}
		}(i, topic)
	}

	slots := make([]*Result, len(topics))
	received := 0

collect:
	for received < len(topics) {
		select {
		case r := <-results:
			res := r.result
			slots[r.index] = &res
			received++
		case <-ctx.Done():
			break collect
		}
	}

	// Keep results that arrived together with the deadline.
drain:
	for received < len(topics) {
		select {
		case r := <-results:
			res := r.result
			slots[r.index] = &res
			received++
		default:
			break drain
		}
	}

	var out BatchResult
	for i, topic := range topics {
		res := slots[i]
		if res == nil {
			out.TimedOut++
			out.Failures = append(out.Failures, models.FailureRecord{
				Stage:    models.StageGenerateText,
				Identity: topic.Title,
				Kind:     models.ErrorKindTimeout,
				Message:  fmt.Sprintf("generation did not finish before the batch deadline: %v", ctx.Err()),
			})
			continue
		}
		if res.Item != nil {
			out.Items = append(out.Items, *res.Item)
		}
		out.Failures = append(out.Failures, res.Failures...)
	}

	b.logger.Info("generation batch finished",
		"topics", len(topics),
		"items", len(out.Items),
		"failures", len(out.Failures),
		"timed_out", out.TimedOut,
	)

	return out
}

func (b *Batch) generateSafely(ctx context.Context, topic models.Topic) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Topic: topic, Failures: []models.FailureRecord{{
				Stage:    models.StageGenerateText,
				Identity: topic.Title,
				Kind:     models.ErrorKindUnknown,
				Message:  fmt.Sprintf("generator panic: %v", r),
			}}}
		}
	}()
	return b.generator.Generate(ctx, topic)
}
