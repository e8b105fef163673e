package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/scoring"
	"github.com/okian/teamcomp/internal/domain/state"
	"github.com/okian/teamcomp/pkg/logger"
	"github.com/okian/teamcomp/pkg/metrics"
)

// Month-end steps, in the order they run.
const (
	StepResult   = "result"
	StepReset    = "reset"
	StepHardware = "hardware"
	StepChanges  = "changes"
)

// StepOutcome is the result of one month-end step.
type StepOutcome struct {
	Step     string        `json:"step"`
	Skipped  bool          `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// LifecycleReport is the outcome of a month end.
type LifecycleReport struct {
	Year  int           `json:"year"`
	Month time.Month    `json:"month"`
	Steps []StepOutcome `json:"steps"`
}

// Err joins the failures of every step.
func (r LifecycleReport) Err() error {
	var errs []error
	for _, st := range r.Steps {
		if st.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Step, st.Err))
		}
	}
	return errors.Join(errs...)
}

// MonthStart begins a new competition month: every user gets a new period
// with no offsets and the retired contributions of the old month are dropped.
func (s *Service) MonthStart(ctx context.Context) error {
	start := time.Now()
	err := s.gate.Run(state.ResettingStats, func() error {
		var errs []error
		if err := s.ledger.RebaselineAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rebaseline: %w", err))
		}
		if err := s.store.DeleteRetiredUsers(ctx); err != nil {
			errs = append(errs, fmt.Errorf("delete retired users: %w", err))
		}
		return errors.Join(errs...)
	})
	s.conflict(ctx, "month_start", err)
	metrics.RecordLifecycleStep("month_start", err, time.Since(start))
	if err != nil {
		s.logger.Error(ctx, "month start failed", logger.Error(err))
		return err
	}
	s.logger.Info(ctx, "stats reset for new month", logger.Int("users", s.ledger.Len()))
	return nil
}

// MonthEnd closes the month that now falls in. The enabled steps run in
// order; a failing step is logged and reported but later steps still run.
func (s *Service) MonthEnd(ctx context.Context, now time.Time) LifecycleReport {
	report := LifecycleReport{Year: now.Year(), Month: now.Month()}
	s.logger.Info(ctx, "month end started",
		logger.Int("year", report.Year),
		logger.String("month", report.Month.String()),
	)

	steps := []struct {
		name    string
		enabled bool
		run     func() error
	}{
		{StepResult, s.monthEnd.Result, func() error { return s.saveMonthlyResult(ctx, report.Year, report.Month) }},
		{StepReset, s.monthEnd.Reset, func() error { return s.MonthStart(ctx) }},
		{StepHardware, s.monthEnd.Hardware, func() error { _, err := s.Reprice(ctx); return err }},
		{StepChanges, s.monthEnd.Changes, func() error { _, err := s.ApplyPendingChanges(ctx); return err }},
	}

	for _, step := range steps {
		if !step.enabled {
			report.Steps = append(report.Steps, StepOutcome{Step: step.name, Skipped: true})
			continue
		}
		start := time.Now()
		err := step.run()
		outcome := StepOutcome{Step: step.name, Duration: time.Since(start), Err: err}
		report.Steps = append(report.Steps, outcome)
		metrics.RecordLifecycleStep("month_end_"+step.name, err, outcome.Duration)
		if err != nil {
			metrics.RecordErrorByComponent("lifecycle", step.name)
			s.logger.Error(ctx, "month end step failed", logger.String("step", step.name), logger.Error(err))
			continue
		}
		s.logger.Info(ctx, "month end step done",
			logger.String("step", step.name),
			logger.Duration("elapsed", outcome.Duration),
		)
	}
	return report
}

// saveMonthlyResult stores the current leaderboards as the result of the
// given month, replacing any earlier save.
func (s *Service) saveMonthlyResult(ctx context.Context, year int, month time.Month) error {
	lb, err := s.buildLeaderboard(ctx)
	if err != nil {
		return err
	}
	result := model.MonthlyResult{
		Year:       year,
		Month:      month,
		Teams:      lb.competition.Teams,
		Categories: lb.categories,
		SavedAt:    s.now().UTC(),
	}
	if err := s.store.SaveMonthlyResult(ctx, result); err != nil {
		return fmt.Errorf("save result of %d-%02d: %w", year, month, err)
	}
	s.logger.Info(ctx, "monthly result saved",
		logger.Int("year", year),
		logger.String("month", month.String()),
		logger.Int("teams", len(result.Teams)),
	)
	return nil
}

// SaveMonthlyResult stores the current leaderboards for a month on demand.
func (s *Service) SaveMonthlyResult(ctx context.Context, year int, month time.Month) (model.MonthlyResult, error) {
	if err := s.saveMonthlyResult(ctx, year, month); err != nil {
		return model.MonthlyResult{}, err
	}
	return s.store.GetMonthlyResult(ctx, year, month)
}

// Reprice refreshes hardware multipliers from the pricing source. Every
// multiplier is recomputed relative to the best performer of its type; users
// on hardware whose multiplier changed lose their offsets.
func (s *Service) Reprice(ctx context.Context) ([]model.Hardware, error) {
	if s.pricing == nil {
		return nil, fmt.Errorf("%w: no pricing source configured", ErrRetrieval)
	}
	entries, err := s.pricing.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: pricing: %w", ErrRetrieval, err)
	}

	var out []model.Hardware
	err = s.write(ctx, "reprice", func() error {
		existing, err := s.store.ListHardware(ctx)
		if err != nil {
			return fmt.Errorf("list hardware: %w", err)
		}
		before := make(map[int]model.Hardware, len(existing))
		for _, hw := range existing {
			before[hw.ID] = hw
		}

		changed := make(map[int]bool)
		for _, hw := range scoring.Reprice(existing, entries) {
			if hw.ID == 0 {
				created, err := s.store.CreateHardware(ctx, hw)
				if err != nil {
					return fmt.Errorf("create hardware %q: %w", hw.Name, err)
				}
				out = append(out, created)
				continue
			}
			if hw != before[hw.ID] {
				if err := s.store.UpdateHardware(ctx, hw); err != nil {
					return fmt.Errorf("update hardware %d: %w", hw.ID, err)
				}
			}
			if hw.Multiplier != before[hw.ID].Multiplier {
				changed[hw.ID] = true
			}
			out = append(out, hw)
		}
		return s.clearOffsets(ctx, changed)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "hardware repriced",
		logger.Int("entries", len(entries)),
		logger.Int("hardware", len(out)),
	)
	return out, nil
}
