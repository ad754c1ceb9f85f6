package models

import (
	"time"
)

// TriggerKind identifies what started a run.
type TriggerKind string

const (
	TriggerScheduled   TriggerKind = "scheduled"
	TriggerInteractive TriggerKind = "interactive"
)

// RunState is a state of the run supervisor's state machine.
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStateCollecting RunState = "collecting"
	RunStateSelecting  RunState = "selecting"
	RunStateGenerating RunState = "generating"
	RunStateDelivering RunState = "delivering"
	RunStateCompleted  RunState = "completed"
	RunStateFailed     RunState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Stage names the component a failure record originates from.
type Stage string

const (
	StageSetup         Stage = "setup"
	StageCollect       Stage = "collect"
	StageSelect        Stage = "select"
	StageGenerateText  Stage = "generate_text"
	StageGenerateImage Stage = "generate_image"
	StageDeliver       Stage = "deliver"
	StageSummary       Stage = "summary"
)

// FailureRecord is one isolated failure inside a run.
type FailureRecord struct {
	RunID    string    `json:"run_id"`
	Stage    Stage     `json:"stage"`
	Identity string    `json:"identity"` // source name, topic title or artifact name
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message,omitempty"`
}

// RunCounts aggregates per-stage outcomes of a run.
type RunCounts struct {
	SourcesAttempted int `json:"sources_attempted"`
	SourcesFailed    int `json:"sources_failed"`
	TopicsSelected   int `json:"topics_selected"`
	ItemsGenerated   int `json:"items_generated"`
	ItemsFailed      int `json:"items_failed"`
	ItemsDelivered   int `json:"items_delivered"`
}

// RunReport is the single mutable record of one run. Only the supervisor
// mutates it; everybody else receives snapshots.
type RunReport struct {
	RunID     string          `json:"run_id"`
	Trigger   TriggerKind     `json:"trigger"`
	Topic     string          `json:"topic,omitempty"` // interactive request text
	State     RunState        `json:"state"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Counts    RunCounts       `json:"counts"`
	Failures  []FailureRecord `json:"failures"`
}

// NewRunReport creates a report in the idle state.
func NewRunReport(runID string, trigger TriggerKind, startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:     runID,
		Trigger:   trigger,
		State:     RunStateIdle,
		StartedAt: startedAt,
		Failures:  []FailureRecord{},
	}
}

// Record appends failures, stamping each with the run ID.
func (r *RunReport) Record(records ...FailureRecord) {
	for _, rec := range records {
		rec.RunID = r.RunID
		r.Failures = append(r.Failures, rec)
	}
}

// Finish moves the report into a terminal state.
func (r *RunReport) Finish(state RunState, at time.Time) {
	r.State = state
	r.EndedAt = &at
}

// Snapshot returns a deep copy safe to hand to other goroutines.
func (r *RunReport) Snapshot() RunReport {
	cp := *r
	cp.Failures = append([]FailureRecord(nil), r.Failures...)
	if r.EndedAt != nil {
		ended := *r.EndedAt
		cp.EndedAt = &ended
	}
	return cp
}

// Duration is the wall time of a finished run, zero while it is still live.
func (r RunReport) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// FailuresIn filters failure records by stage.
func (r RunReport) FailuresIn(stage Stage) []FailureRecord {
	var out []FailureRecord
	for _, f := range r.Failures {
		if f.Stage == stage {
			out = append(out, f)
		}
	}
	return out
}
