package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allfoodsicily/draftdesk/internal/delivery"
	"github.com/allfoodsicily/draftdesk/internal/generation"
	"github.com/allfoodsicily/draftdesk/internal/ingestion"
	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/selection"
	"github.com/allfoodsicily/draftdesk/internal/sources"
)

// Collector gathers raw items from the registry. *ingestion.Collector implements it.
type Collector interface {
	Collect(ctx context.Context, reg *sources.Registry) ingestion.CollectResult
}

// BatchGenerator drafts a set of topics. *generation.Batch implements it.
type BatchGenerator interface {
	Run(ctx context.Context, topics []models.Topic) generation.BatchResult
}

// Dispatcher delivers items and the run summary. *delivery.Dispatcher implements it.
type Dispatcher interface {
	Deliver(ctx context.Context, runID string, items []models.GeneratedItem) delivery.Result
	SendSummary(ctx context.Context, report models.RunReport) *models.FailureRecord
}

// History remembers which stories were already delivered.
type History interface {
	Published(ctx context.Context) (map[string]struct{}, error)
	Record(ctx context.Context, runID string, topics []models.Topic) error
}

// Dependencies wires the supervisor to its stages.
type Dependencies struct {
	Registry   *sources.Registry
	Collector  Collector
	Selection  selection.Config
	Generator  BatchGenerator
	Dispatcher Dispatcher
	History    History // optional

	// Validate runs before every run; an error fails the run during setup.
	Validate func() error

	Observers []Observer

	// Test hooks.
	Now      func() time.Time
	NewRunID func() string
}

// Supervisor owns the single-run lock and drives each run through the state
// machine. The RunReport of a live run is only touched by the goroutine
// executing it; other goroutines see snapshots.
type Supervisor struct {
	deps   Dependencies
	logger *slog.Logger

	lock chan struct{}
	wg   sync.WaitGroup

	mu   sync.RWMutex
	live *models.RunReport
	last *models.RunReport
}

// New creates a supervisor.
func New(deps Dependencies, logger *slog.Logger) *Supervisor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	return &Supervisor{
		deps:   deps,
		logger: logger.With("component", "supervisor"),
		lock:   make(chan struct{}, 1),
	}
}

// Submit starts a run in the background and returns immediately. A busy
// supervisor answers Ack{Accepted: false}; an invalid trigger is an error.
// The run outlives ctx.
func (s *Supervisor) Submit(ctx context.Context, trigger Trigger) (Ack, error) {
	if err := trigger.Validate(); err != nil {
		return Ack{}, err
	}
	if !s.tryAcquire() {
		s.reject(trigger)
		return Ack{Accepted: false}, nil
	}

	runID := s.deps.NewRunID()
	runCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		_, _ = s.execute(runCtx, runID, trigger)
	}()

	return Ack{Accepted: true, RunID: runID}, nil
}

// Run executes a run synchronously. It returns ErrBusy without side effects
// when another run is active, and a config error when setup validation fails.
func (s *Supervisor) Run(ctx context.Context, trigger Trigger) (models.RunReport, error) {
	if err := trigger.Validate(); err != nil {
		return models.RunReport{}, err
	}
	if !s.tryAcquire() {
		s.reject(trigger)
		return models.RunReport{}, ErrBusy
	}
	defer s.release()

	return s.execute(ctx, s.deps.NewRunID(), trigger)
}

// Wait blocks until every submitted run has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Busy reports whether a run currently holds the lock.
func (s *Supervisor) Busy() bool {
	return len(s.lock) == cap(s.lock)
}

// Current returns a snapshot of the live run, if any.
func (s *Supervisor) Current() (models.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.live == nil {
		return models.RunReport{}, false
	}
	return s.live.Snapshot(), true
}

// LastReport returns the most recent terminal report.
func (s *Supervisor) LastReport() (models.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return models.RunReport{}, false
	}
	return s.last.Snapshot(), true
}

func (s *Supervisor) tryAcquire() bool {
	select {
	case s.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Supervisor) release() {
	<-s.lock
}

func (s *Supervisor) reject(trigger Trigger) {
	s.logger.Warn("trigger rejected, run in progress", "trigger", trigger.Kind, "origin", trigger.Origin)
	for _, obs := range s.deps.Observers {
		obs.Rejected(trigger)
	}
}

// execute runs the state machine. The caller holds the lock.
func (s *Supervisor) execute(ctx context.Context, runID string, trigger Trigger) (result models.RunReport, err error) {
	report := models.NewRunReport(runID, trigger.Kind, s.deps.Now())
	report.Topic = trigger.Topic
	logger := s.logger.With("run_id", runID, "trigger", trigger.Kind)
	logger.Info("run started", "origin", trigger.Origin, "topic", trigger.Topic)

	run := &runState{supervisor: s, report: report, logger: logger, entered: report.StartedAt}
	s.publish(report, false)

	defer func() {
		// A panicking stage still leaves a terminal report behind.
		if r := recover(); r != nil {
			logger.Error("run panicked", "state", report.State, "panic", r)
			report.Record(models.FailureRecord{Stage: models.StageSetup, Identity: string(report.State), Kind: models.ErrorKindUnknown, Message: fmt.Sprint(r)})
			if !report.State.Terminal() {
				run.finish(models.RunStateFailed)
			}
			result = report.Snapshot()
			err = models.NewError(models.ErrorKindUnknown, "run", fmt.Errorf("panic: %v", r))
		}
	}()

	if s.deps.Validate != nil {
		if verr := s.deps.Validate(); verr != nil {
			report.Record(models.FailureRecord{Stage: models.StageSetup, Identity: "config", Kind: models.ErrorKindConfig, Message: verr.Error()})
			run.finish(models.RunStateFailed)
			logger.Error("run failed during setup", "error", verr)
			return report.Snapshot(), models.NewError(models.ErrorKindConfig, "setup", verr)
		}
	}

	var topics []models.Topic
	switch trigger.Kind {
	case models.TriggerInteractive:
		topics = []models.Topic{AdHocTopic(trigger.Topic)}
	default:
		topics = run.collectAndSelect(ctx)
	}
	report.Counts.TopicsSelected = len(topics)

	run.transition(models.RunStateGenerating)
	batch := s.deps.Generator.Run(ctx, topics)
	report.Counts.ItemsGenerated = len(batch.Items)
	report.Counts.ItemsFailed = len(topics) - len(batch.Items)
	report.Record(batch.Failures...)

	run.transition(models.RunStateDelivering)
	if len(batch.Items) > 0 {
		delivered := s.deps.Dispatcher.Deliver(ctx, runID, batch.Items)
		report.Counts.ItemsDelivered = len(delivered.Delivered)
		report.Record(delivered.Failures...)
		run.remember(ctx, batch.Items, delivered.Delivered)
	}

	// The summary describes the run as it ends; its own failure is recorded
	// before the report turns terminal.
	ended := s.deps.Now()
	summary := report.Snapshot()
	summary.Finish(models.RunStateCompleted, ended)
	if rec := s.deps.Dispatcher.SendSummary(ctx, summary); rec != nil {
		report.Record(*rec)
	}
	run.finishAt(models.RunStateCompleted, ended)

	logger.Info("run completed",
		"sources_attempted", report.Counts.SourcesAttempted,
		"sources_failed", report.Counts.SourcesFailed,
		"topics", report.Counts.TopicsSelected,
		"delivered", report.Counts.ItemsDelivered,
		"failures", len(report.Failures),
		"duration", report.Duration(),
	)
	return report.Snapshot(), nil
}

func (s *Supervisor) publish(report *models.RunReport, terminal bool) {
	snap := report.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	if terminal {
		s.last = &snap
		s.live = nil
		return
	}
	s.live = &snap
}

// runState carries one run through its stages.
type runState struct {
	supervisor *Supervisor
	report     *models.RunReport
	logger     *slog.Logger
	entered    time.Time
}

func (r *runState) collectAndSelect(ctx context.Context) []models.Topic {
	s := r.supervisor

	r.transition(models.RunStateCollecting)
	collected := s.deps.Collector.Collect(ctx, s.deps.Registry)
	r.report.Counts.SourcesAttempted = collected.Attempted
	r.report.Counts.SourcesFailed = len(collected.Failures)
	r.report.Record(collected.Failures...)

	r.transition(models.RunStateSelecting)
	var exclude map[string]struct{}
	if s.deps.History != nil {
		published, err := s.deps.History.Published(ctx)
		if err != nil {
			r.logger.Warn("topic history unavailable, selecting without exclusions", "error", err)
		} else {
			exclude = published
		}
	}

	topics := selection.Select(collected.Items, s.deps.Selection, exclude)
	r.logger.Info("topics selected", "items", len(collected.Items), "topics", len(topics))
	if len(topics) < s.deps.Selection.MinTopics {
		r.logger.Warn("fewer topics than requested, continuing",
			"topics", len(topics),
			"min_topics", s.deps.Selection.MinTopics,
		)
	}
	return topics
}

// remember records delivered topics in the history. Failures only log.
func (r *runState) remember(ctx context.Context, items []models.GeneratedItem, delivered []string) {
	history := r.supervisor.deps.History
	if history == nil || len(delivered) == 0 {
		return
	}

	ids := make(map[string]struct{}, len(delivered))
	for _, id := range delivered {
		ids[id] = struct{}{}
	}
	var topics []models.Topic
	for _, item := range items {
		if _, ok := ids[item.Topic.ID]; ok {
			topics = append(topics, item.Topic)
		}
	}

	if err := history.Record(ctx, r.report.RunID, topics); err != nil {
		r.logger.Warn("failed to record topic history", "error", err)
	}
}

func (r *runState) transition(to models.RunState) {
	s := r.supervisor
	now := s.deps.Now()
	t := Transition{
		RunID:   r.report.RunID,
		Trigger: r.report.Trigger,
		From:    r.report.State,
		To:      to,
		At:      now,
		Elapsed: now.Sub(r.entered),
	}
	r.entered = now
	r.report.State = to
	r.logger.Debug("state transition", "from", t.From, "to", t.To)

	s.publish(r.report, false)
	for _, obs := range s.deps.Observers {
		obs.Transition(t)
	}
}

func (r *runState) finish(state models.RunState) {
	r.finishAt(state, r.supervisor.deps.Now())
}

func (r *runState) finishAt(state models.RunState, now time.Time) {
	s := r.supervisor
	t := Transition{
		RunID:   r.report.RunID,
		Trigger: r.report.Trigger,
		From:    r.report.State,
		To:      state,
		At:      now,
		Elapsed: now.Sub(r.entered),
	}
	r.report.Finish(state, now)

	snap := r.report.Snapshot()
	t.Report = &snap

	s.publish(r.report, true)
	for _, obs := range s.deps.Observers {
		obs.Transition(t)
	}
}
