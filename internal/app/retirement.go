package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/scoring"
	"github.com/okian/teamcomp/pkg/logger"
	"github.com/okian/teamcomp/pkg/metrics"
)

// Retirement reasons.
const (
	RetireDeleted  = "deleted"
	RetireTeam     = "team_changed"
	RetireCategory = "category_changed"
	RetireHardware = "hardware_changed"
)

// retirementReason reports why moving a user from before to after freezes
// its contribution, or "" when the edit keeps the current period.
func retirementReason(before, after model.User, oldHW, newHW model.Hardware) string {
	switch {
	case before.TeamID != after.TeamID:
		return RetireTeam
	case before.Category != after.Category:
		return RetireCategory
	case before.HardwareID != after.HardwareID && oldHW.Multiplier != newHW.Multiplier:
		return RetireHardware
	}
	return ""
}

// retire captures the ledger entry of u and starts a new period for it. The
// captured contribution is kept under the old team.
func (s *Service) retire(ctx context.Context, u model.User, hw model.Hardware, reason string) error {
	captured, err := s.ledger.Rebaseline(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("retire user %d: %w", u.ID, err)
	}
	if err := s.keepRetired(ctx, u, hw, captured, reason); err != nil {
		s.restore(ctx, captured)
		return err
	}
	return nil
}

// remove captures and drops the ledger entry of a deleted user.
func (s *Service) remove(ctx context.Context, u model.User, hw model.Hardware) (model.LedgerEntry, error) {
	captured, err := s.ledger.Remove(ctx, u.ID)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("retire user %d: %w", u.ID, err)
	}
	if err := s.keepRetired(ctx, u, hw, captured, RetireDeleted); err != nil {
		s.restore(ctx, captured)
		return model.LedgerEntry{}, err
	}
	return captured, nil
}

// restore puts back an entry whose retirement could not be stored.
func (s *Service) restore(ctx context.Context, captured model.LedgerEntry) {
	if err := s.ledger.Restore(ctx, captured); err != nil {
		s.logger.Error(ctx, "failed to restore ledger entry after failed retirement",
			logger.Int("user_id", captured.UserID),
			logger.Error(err),
		)
	}
}

func (s *Service) keepRetired(ctx context.Context, u model.User, hw model.Hardware, captured model.LedgerEntry, reason string) error {
	sum := scoring.SummarizeUser(u, hw, captured)
	if sum.Points == 0 && sum.MultipliedPoints == 0 && sum.Units == 0 {
		s.logger.Debug(ctx, "nothing to retire", logger.Int("user_id", u.ID), logger.String("reason", reason))
		return nil
	}

	retired := model.RetiredUserSummary{
		ID:               uuid.NewString(),
		TeamID:           u.TeamID,
		UserID:           u.ID,
		DisplayName:      u.DisplayName,
		Category:         u.Category,
		HardwareName:     hw.DisplayName,
		Points:           sum.Points,
		MultipliedPoints: sum.MultipliedPoints,
		Units:            sum.Units,
		RetiredAt:        s.now().UTC(),
	}
	if err := s.store.CreateRetiredUser(ctx, retired); err != nil {
		return fmt.Errorf("store retired user %d: %w", u.ID, err)
	}

	metrics.RecordRetirement(reason)
	s.logger.Info(ctx, "user contribution retired",
		logger.Int("user_id", u.ID),
		logger.Int("team_id", u.TeamID),
		logger.String("reason", reason),
		logger.Int64("multiplied_points", retired.MultipliedPoints),
		logger.Int64("units", retired.Units),
	)
	return nil
}
