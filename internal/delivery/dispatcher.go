package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/retry"
)

// Backend is the delivery channel for artifacts and notifications.
type Backend interface {
	SendArtifact(ctx context.Context, artifact Artifact) error
	SendMessage(ctx context.Context, text string) error
}

// Result is the outcome of delivering one batch of items.
type Result struct {
	Delivered []string // topic IDs, in delivery order
	Failures  []models.FailureRecord
}

// Dispatcher renders items and hands them to the backend, isolating
// failures per item.
type Dispatcher struct {
	backend  Backend
	renderer *Renderer
	policy   retry.Policy
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(backend Backend, renderer *Renderer, policy retry.Policy, logger *slog.Logger) *Dispatcher {
	if renderer == nil {
		renderer = NewRenderer(nil)
	}
	return &Dispatcher{backend: backend, renderer: renderer, policy: policy, logger: logger}
}

// Deliver sends every item once. A failed delivery is recorded and never
// blocks the next item. A topic appearing twice is sent only the first time
// and the repeat is recorded as a malformed failure.
func (d *Dispatcher) Deliver(ctx context.Context, runID string, items []models.GeneratedItem) Result {
	var result Result
	sent := make(map[string]struct{}, len(items))
	logger := d.logger.With("run_id", runID)

	for _, item := range items {
		key := item.Topic.ID
		if key == "" {
			key = item.Topic.Title
		}
		if _, dup := sent[key]; dup {
			logger.Warn("skipping duplicate delivery", "topic", item.Topic.Title)
			result.Failures = append(result.Failures, deliveryFailure(runID, item.Topic.Title,
				models.NewError(models.ErrorKindMalformed, "deliver", fmt.Errorf("topic %q already delivered in this run", key))))
			continue
		}
		sent[key] = struct{}{}

		artifact, err := d.renderer.Artifact(item)
		if err != nil {
			result.Failures = append(result.Failures, deliveryFailure(runID, item.Topic.Title, models.NewError(models.ErrorKindMalformed, "render", err)))
			continue
		}

		// Retries resend the same rendered artifact.
		err = retry.DoErr(ctx, d.policy, "deliver "+artifact.Filename, func(ctx context.Context) error {
			return d.backend.SendArtifact(ctx, artifact)
		})
		if err != nil {
			logger.Warn("delivery failed",
				"topic", item.Topic.Title,
				"kind", models.KindOf(err),
				"error", err,
			)
			result.Failures = append(result.Failures, deliveryFailure(runID, item.Topic.Title, err))
			continue
		}

		logger.Info("item delivered", "topic", item.Topic.Title, "filename", artifact.Filename)
		result.Delivered = append(result.Delivered, item.Topic.ID)
	}

	return result
}

// SendSummary renders and sends the run report. Failure is returned as a
// record for the caller to log; it never fails the run.
func (d *Dispatcher) SendSummary(ctx context.Context, report models.RunReport) *models.FailureRecord {
	text, err := d.renderer.Summary(report)
	if err != nil {
		rec := summaryFailure(report.RunID, models.NewError(models.ErrorKindMalformed, "render summary", err))
		return &rec
	}

	err = retry.DoErr(ctx, d.policy, "send summary", func(ctx context.Context) error {
		return d.backend.SendMessage(ctx, text)
	})
	if err != nil {
		d.logger.Warn("summary delivery failed", "run_id", report.RunID, "kind", models.KindOf(err), "error", err)
		rec := summaryFailure(report.RunID, err)
		return &rec
	}
	return nil
}

func deliveryFailure(runID, identity string, err error) models.FailureRecord {
	return models.FailureRecord{
		RunID:    runID,
		Stage:    models.StageDeliver,
		Identity: identity,
		Kind:     models.KindOf(err),
		Message:  err.Error(),
	}
}

func summaryFailure(runID string, err error) models.FailureRecord {
	return models.FailureRecord{
		RunID:    runID,
		Stage:    models.StageSummary,
		Identity: "summary",
		Kind:     models.KindOf(err),
		Message:  err.Error(),
	}
}
