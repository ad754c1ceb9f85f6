package orchestrator

import (
	"time"

	"github.com/allfoodsicily/draftdesk/internal/metrics"
	"github.com/allfoodsicily/draftdesk/internal/models"
)

// Transition is one state change of a run. Report is set on terminal
// transitions only.
type Transition struct {
	RunID   string
	Trigger models.TriggerKind
	From    models.RunState
	To      models.RunState
	At      time.Time
	Elapsed time.Duration // time spent in From
	Report  *models.RunReport
}

// Observer is notified of every transition and every busy rejection.
// Callbacks run on the supervisor's goroutine and must not block.
type Observer interface {
	Transition(t Transition)
	Rejected(trigger Trigger)
}

// MetricsObserver feeds supervisor events into the pipeline metrics.
type MetricsObserver struct {
	pipeline *metrics.Pipeline
}

// NewMetricsObserver creates an observer backed by p.
func NewMetricsObserver(p *metrics.Pipeline) *MetricsObserver {
	return &MetricsObserver{pipeline: p}
}

// Transition implements Observer.
func (o *MetricsObserver) Transition(t Transition) {
	if t.From != models.RunStateIdle {
		o.pipeline.StageCompleted(string(t.From), t.Elapsed)
	}
	if t.Report == nil {
		return
	}
	o.pipeline.RunFinished(string(t.Trigger), string(t.To))
	for _, f := range t.Report.Failures {
		o.pipeline.Failure(string(f.Stage), string(f.Kind))
	}
}

// Rejected implements Observer.
func (o *MetricsObserver) Rejected(trigger Trigger) {
	o.pipeline.TriggerRejected(string(trigger.Kind))
}
