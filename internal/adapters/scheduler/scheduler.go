// Package scheduler fires the monthly lifecycle and the hourly ingestion
// from a ticker. Every trigger fires at most once per period, however often
// the ticker ticks inside its window.
package scheduler

import (
	"context"
	"errors"
	"time"

	service "github.com/okian/teamcomp/internal/app"
	"github.com/okian/teamcomp/internal/domain/calendar"
	"github.com/okian/teamcomp/internal/domain/dedupe"
	"github.com/okian/teamcomp/internal/domain/state"
	"github.com/okian/teamcomp/pkg/logger"
	"github.com/okian/teamcomp/pkg/metrics"
)

const (
	defaultInterval     = time.Minute
	defaultMonthEndHour = 23
	defaultDedupeSize   = 1024
)

// Coordinator is the lifecycle the scheduler drives.
type Coordinator interface {
	MonthStart(ctx context.Context) error
	MonthEnd(ctx context.Context, now time.Time) service.LifecycleReport
	HourlyIngest(ctx context.Context) (service.IngestReport, error)
}

// Scheduler checks the calendar on every tick.
type Scheduler struct {
	coordinator Coordinator
	deduper     dedupe.Deduper

	interval          time.Duration
	ingestMinute      int
	monthEndHour      int
	dedupeSize        int
	monthStartEnabled bool
	monthEndEnabled   bool
	ingestEnabled     bool
	location          *time.Location
	now               func() time.Time

	logger logger.Logger
}

// New creates a scheduler with every trigger enabled.
func New(c Coordinator, opts ...Option) *Scheduler {
	s := &Scheduler{
		coordinator:       c,
		interval:          defaultInterval,
		monthEndHour:      defaultMonthEndHour,
		dedupeSize:        defaultDedupeSize,
		monthStartEnabled: true,
		monthEndEnabled:   true,
		ingestEnabled:     true,
		location:          time.UTC,
		now:               time.Now,
		logger:            logger.Get().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	}
	return s
}

// Run ticks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "scheduler started",
		logger.Duration("interval", s.interval),
		logger.Int("ingestMinute", s.ingestMinute),
		logger.Int("monthEndHour", s.monthEndHour),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs whatever is due at the current time.
func (s *Scheduler) Tick(ctx context.Context) {
	t := s.now().In(s.location)

	if s.monthStartEnabled && calendar.IsFirstDayOfMonth(t) {
		s.fire(ctx, "month-start:"+calendar.Period(t), func() error {
			return s.coordinator.MonthStart(ctx)
		})
	}

	if s.monthEndEnabled && calendar.IsLastDayOfMonth(t) && t.Hour() >= s.monthEndHour {
		s.fire(ctx, "month-end:"+calendar.Period(t), func() error {
			if err := s.coordinator.MonthEnd(ctx, t).Err(); err != nil {
				// Steps are best effort; repeating them would reset twice.
				s.logger.Warn(ctx, "month end finished with failures", logger.Error(err))
			}
			return nil
		})
	}

	if s.ingestEnabled && t.Minute() >= s.ingestMinute {
		s.fire(ctx, "ingest:"+t.Format("2006-01-02T15"), func() error {
			_, err := s.coordinator.HourlyIngest(ctx)
			if errors.Is(err, service.ErrIngestionDisabled) {
				s.logger.Debug(ctx, "ingestion skipped, parsing disabled")
				return nil
			}
			return err
		})
	}
}

// fire runs fn once for key. A run blocked by the system state is retried
// on a later tick.
func (s *Scheduler) fire(ctx context.Context, key string, fn func() error) {
	if s.deduper.SeenAndRecord(ctx, key) {
		return
	}
	s.logger.Info(ctx, "trigger fired", logger.String("trigger", key))

	err := fn()
	switch {
	case err == nil:
	case errors.Is(err, state.ErrStateConflict):
		s.deduper.Unrecord(ctx, key)
		s.logger.Warn(ctx, "trigger deferred, system busy", logger.String("trigger", key))
	default:
		metrics.RecordErrorByComponent("scheduler", "trigger_failed")
		s.logger.Error(ctx, "trigger failed", logger.String("trigger", key), logger.Error(err))
	}
}
