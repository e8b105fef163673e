package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/teamcomp/internal/adapters/mq/queue"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/scoring"
	"github.com/okian/teamcomp/internal/domain/state"
	"github.com/okian/teamcomp/pkg/logger"
	"github.com/okian/teamcomp/pkg/metrics"
)

// UserFailure is the ingestion failure of one user.
type UserFailure struct {
	UserID int   `json:"user_id"`
	Err    error `json:"-"`
}

// IngestReport is the outcome of one bulk ingestion.
type IngestReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Users      int           `json:"users"`
	Succeeded  int           `json:"succeeded"`
	Failures   []UserFailure `json:"failures"`
}

// Err joins every per-user failure.
func (r IngestReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("user %d: %w", f.UserID, f.Err))
	}
	return errors.Join(errs...)
}

// HourlyIngest fetches and records the stats of every user. It only runs
// while parsing is enabled. One user's failure leaves that user's entry
// untouched and does not affect the others.
func (s *Service) HourlyIngest(ctx context.Context) (IngestReport, error) {
	if s.gate.Parsing() != state.ParsingEnabled {
		metrics.RecordIngestRun("disabled", 0)
		return IngestReport{}, ErrIngestionDisabled
	}
	return s.ingest(ctx, "hourly_ingest")
}

// ManualUpdate runs a bulk ingestion regardless of the parsing state.
func (s *Service) ManualUpdate(ctx context.Context) (IngestReport, error) {
	return s.ingest(ctx, "manual_update")
}

func (s *Service) ingest(ctx context.Context, op string) (IngestReport, error) {
	s.mu.RLock()
	jobs, stopped := s.jobs, s.stopped
	s.mu.RUnlock()
	if jobs == nil {
		return IngestReport{}, fmt.Errorf("%w: no stats source running", ErrRetrieval)
	}

	report := IngestReport{StartedAt: s.now().UTC()}
	err := s.write(ctx, op, func() error {
		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		report.Users = len(users)

		done := make(chan queue.Result, len(users))
		submitted := 0
		for _, u := range users {
			job := queue.Job{Ctx: ctx, UserID: u.ID, Identity: u.FoldingUserName, Passkey: u.Passkey, Done: done}
			if err := jobs.Submit(ctx, job); err != nil {
				report.Failures = append(report.Failures, UserFailure{UserID: u.ID, Err: err})
				continue
			}
			submitted++
		}

		// Every submitted job is waited for, even after ctx is done, so no
		// record lands once the gate is released.
		var interrupted error
		cancelled := ctx.Done()
		for waiting := submitted; waiting > 0; {
			select {
			case r := <-done:
				waiting--
				if r.Err != nil {
					report.Failures = append(report.Failures, UserFailure{UserID: r.UserID, Err: r.Err})
					continue
				}
				report.Succeeded++
			case <-cancelled:
				cancelled = nil
				interrupted = fmt.Errorf("ingestion interrupted after %d of %d users: %w", submitted-waiting, submitted, ctx.Err())
			case <-stopped:
				return fmt.Errorf("ingestion stopped with %d of %d users outstanding: %w", waiting, submitted, ErrRetrieval)
			}
		}
		return interrupted
	})

	report.FinishedAt = s.now().UTC()
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].UserID < report.Failures[j].UserID })
	elapsed := report.FinishedAt.Sub(report.StartedAt)

	switch {
	case isConflict(err):
		metrics.RecordIngestRun("conflict", elapsed)
		return report, err
	case err != nil:
		metrics.RecordIngestRun("error", elapsed)
		s.logger.Error(ctx, "stats ingestion failed", logger.String("operation", op), logger.Error(err))
		return report, err
	}

	metrics.RecordIngestRun("ok", elapsed)
	metrics.RecordIngestUsers(report.Succeeded, len(report.Failures))
	s.logger.Info(ctx, "stats ingested",
		logger.String("operation", op),
		logger.Int("users", report.Users),
		logger.Int("succeeded", report.Succeeded),
		logger.Int("failed", len(report.Failures)),
		logger.Duration("elapsed", elapsed),
	)
	return report, nil
}

// ApplyOffset adds a manual adjustment to a user's current period. A zero
// multiplied offset next to a non-zero points offset is derived from the
// multiplier of the user's hardware.
func (s *Service) ApplyOffset(ctx context.Context, userID int, offset model.OffsetStats) (model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := s.write(ctx, "apply_offset", func() error {
		u, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user %d: %w", userID, err)
		}
		hw, err := s.store.GetHardware(ctx, u.HardwareID)
		if err != nil {
			return fmt.Errorf("get hardware %d: %w", u.HardwareID, err)
		}
		entry, err = s.ledger.ApplyOffset(ctx, userID, scoring.DeriveOffset(offset, hw.Multiplier))
		if err != nil {
			return fmt.Errorf("apply offset to user %d: %w", userID, err)
		}
		return nil
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}

	metrics.RecordOffsetApplied()
	s.logger.Info(ctx, "offset applied",
		logger.Int("user_id", userID),
		logger.Int64("points", entry.Offset.Points),
		logger.Int64("multiplied_points", entry.Offset.MultipliedPoints),
		logger.Int64("units", entry.Offset.Units),
	)
	return entry, nil
}

// ManualReset starts a new period for every user, as at the start of a month.
func (s *Service) ManualReset(ctx context.Context) error {
	return s.MonthStart(ctx)
}
