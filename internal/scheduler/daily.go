package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/orchestrator"
)

// Submitter starts runs. *orchestrator.Supervisor implements it.
type Submitter interface {
	Submit(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.Ack, error)
}

// DailyConfig configures the daily trigger.
type DailyConfig struct {
	TimeOfDay     string // "HH:MM"
	Location      *time.Location
	CheckInterval time.Duration
	// CatchUp is how long after TimeOfDay a missed or busy-rejected run is
	// still attempted.
	CatchUp time.Duration
}

// DailyScheduler submits one scheduled run per day at a fixed local time.
type DailyScheduler struct {
	submitter     Submitter
	hour, minute  int
	location      *time.Location
	checkInterval time.Duration
	catchUp       time.Duration
	logger        *slog.Logger
	now           func() time.Time

	lastRun  time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewDailyScheduler creates a new daily scheduler
func NewDailyScheduler(submitter Submitter, config DailyConfig, logger *slog.Logger) (*DailyScheduler, error) {
	hour, minute, err := ParseTimeOfDay(config.TimeOfDay)
	if err != nil {
		return nil, err
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.CatchUp <= 0 {
		config.CatchUp = time.Hour
	}

	return &DailyScheduler{
		submitter:     submitter,
		hour:          hour,
		minute:        minute,
		location:      config.Location,
		checkInterval: config.CheckInterval,
		catchUp:       config.CatchUp,
		logger:        logger.With("component", "scheduler"),
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}, nil
}

// ParseTimeOfDay parses "HH:MM" in 24-hour format.
func ParseTimeOfDay(value string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", value)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

// Start begins the scheduler loop
func (s *DailyScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting daily scheduler",
		"time_of_day", fmt.Sprintf("%02d:%02d", s.hour, s.minute),
		"timezone", s.location.String(),
		"next_run", s.NextRun(s.now()).Format(time.RFC3339),
	)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.check(ctx)

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-s.stopChan:
			s.logger.Info("Daily scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Daily scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler
func (s *DailyScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// NextRun returns the next scheduled time after now.
func (s *DailyScheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.location)
	next := s.runTime(local)
	if !next.After(local) {
		next = s.runTime(local.AddDate(0, 0, 1))
	}
	return next
}

func (s *DailyScheduler) runTime(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.hour, s.minute, 0, 0, s.location)
}

// check submits today's run when it is due and has not been accepted yet.
func (s *DailyScheduler) check(ctx context.Context) bool {
	now := s.now().In(s.location)
	due := s.runTime(now)

	if now.Before(due) || now.Sub(due) >= s.catchUp {
		return false
	}
	if !s.lastRun.IsZero() && sameDay(s.lastRun.In(s.location), now) {
		return false
	}

	ack, err := s.submitter.Submit(ctx, orchestrator.Trigger{Kind: models.TriggerScheduled, Origin: "scheduler"})
	if err != nil {
		s.logger.Error("Failed to submit scheduled run", "error", err)
		return false
	}
	if !ack.Accepted {
		s.logger.Warn("Scheduled run rejected, another run is in progress; will retry", "catch_up_until", due.Add(s.catchUp).Format("15:04"))
		return false
	}

	s.lastRun = now
	s.logger.Info("Scheduled run started", "run_id", ack.RunID)
	return true
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
