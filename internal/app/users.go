package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/teamcomp/internal/adapters/client/stats"
	"github.com/okian/teamcomp/internal/domain/ledger"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/pkg/logger"
)

// Users returns every active user.
func (s *Service) Users(ctx context.Context) ([]model.User, error) {
	return s.store.ListUsers(ctx)
}

// User returns the user with the given id.
func (s *Service) User(ctx context.Context, id int) (model.User, error) {
	return s.store.GetUser(ctx, id)
}

// CreateUser adds a user to a team. The attribution period starts at the
// identity's current external totals.
func (s *Service) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	normalizeUser(&u)
	if err := checkUserFields(u); err != nil {
		return model.User{}, err
	}
	reading, err := s.openingReading(ctx, u.FoldingUserName, u.Passkey)
	if err != nil {
		return model.User{}, err
	}

	var created model.User
	err = s.write(ctx, "create_user", func() error {
		if _, err := s.validateUser(ctx, u, 0); err != nil {
			return err
		}
		created, err = s.store.CreateUser(ctx, u)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if _, err := s.ledger.Open(ctx, created.ID, reading); err != nil {
			if delErr := s.store.DeleteUser(ctx, created.ID); delErr != nil {
				s.logger.Error(ctx, "failed to roll back user without ledger entry",
					logger.Int("user_id", created.ID),
					logger.Error(delErr),
				)
			}
			return fmt.Errorf("open ledger of user %d: %w", created.ID, err)
		}
		return nil
	})
	if err != nil {
		return model.User{}, err
	}

	s.refreshGauges(ctx)
	s.logger.Info(ctx, "user created",
		logger.Int("user_id", created.ID),
		logger.Int("team_id", created.TeamID),
		logger.String("category", string(created.Category)),
		logger.Int64("baseline_points", reading.Points),
	)
	return created, nil
}

// UpdateUser replaces a user's attributes. Moving to another team, changing
// category or switching to hardware with a different multiplier retires the
// contribution accrued so far under the old team.
func (s *Service) UpdateUser(ctx context.Context, u model.User) error {
	normalizeUser(&u)
	if err := checkUserFields(u); err != nil {
		return err
	}
	current, err := s.store.GetUser(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("get user %d: %w", u.ID, err)
	}
	reading, err := s.identityReading(ctx, current, u)
	if err != nil {
		return err
	}

	return s.write(ctx, "update_user", func() error {
		current, err := s.store.GetUser(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("get user %d: %w", u.ID, err)
		}
		return s.editUser(ctx, current, u, reading)
	})
}

// DeleteUser removes a user. Its contribution stays with its team.
func (s *Service) DeleteUser(ctx context.Context, id int) error {
	err := s.write(ctx, "delete_user", func() error {
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return fmt.Errorf("get user %d: %w", id, err)
		}
		hw, err := s.store.GetHardware(ctx, u.HardwareID)
		if err != nil {
			return fmt.Errorf("get hardware %d: %w", u.HardwareID, err)
		}

		captured, err := s.remove(ctx, u, hw)
		tracked := err == nil
		if err != nil && !errors.Is(err, ledger.ErrUnknownUser) {
			return err
		}
		if err := s.store.DeleteUser(ctx, id); err != nil {
			// The contribution is already retired; the user keeps a fresh period.
			if tracked {
				if _, openErr := s.ledger.Open(ctx, id, captured.Raw); openErr != nil {
					s.logger.Error(ctx, "failed to reopen ledger entry", logger.Int("user_id", id), logger.Error(openErr))
				}
			}
			return fmt.Errorf("delete user %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.refreshGauges(ctx)
	s.logger.Info(ctx, "user deleted", logger.Int("user_id", id))
	return nil
}

// editUser moves a user from before to after. The gate must be held.
// reading is the current total of a new external identity, if any.
func (s *Service) editUser(ctx context.Context, before, after model.User, reading *model.RawStats) error {
	newHW, err := s.validateUser(ctx, after, before.ID)
	if err != nil {
		return err
	}
	oldHW := newHW
	if before.HardwareID != after.HardwareID {
		if oldHW, err = s.store.GetHardware(ctx, before.HardwareID); err != nil {
			return fmt.Errorf("get hardware %d: %w", before.HardwareID, err)
		}
	}

	if reason := retirementReason(before, after, oldHW, newHW); reason != "" {
		if err := s.retire(ctx, before, oldHW, reason); err != nil {
			return err
		}
	}
	if reading != nil {
		if _, err := s.ledger.Rebind(ctx, after.ID, *reading); err != nil {
			return fmt.Errorf("rebind user %d: %w", after.ID, err)
		}
	}
	if err := s.store.UpdateUser(ctx, after); err != nil {
		return fmt.Errorf("update user %d: %w", after.ID, err)
	}

	s.logger.Info(ctx, "user updated",
		logger.Int("user_id", after.ID),
		logger.Int("team_id", after.TeamID),
		logger.Int("hardware_id", after.HardwareID),
		logger.Bool("identity_changed", reading != nil),
	)
	return nil
}

// validateUser checks u against its team and hardware. self is the id of
// the user being edited, zero for a new one. The hardware of u is returned.
func (s *Service) validateUser(ctx context.Context, u model.User, self int) (model.Hardware, error) {
	if _, err := s.store.GetTeam(ctx, u.TeamID); err != nil {
		return model.Hardware{}, fmt.Errorf("team %d: %w", u.TeamID, err)
	}
	hw, err := s.store.GetHardware(ctx, u.HardwareID)
	if err != nil {
		return model.Hardware{}, fmt.Errorf("hardware %d: %w", u.HardwareID, err)
	}
	if !u.Category.Compatible(hw.Make, hw.Type) {
		return model.Hardware{}, fmt.Errorf("%w: %s on %s %s", ErrIncompatibleCategory, u.Category, hw.Make, hw.Type)
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return model.Hardware{}, fmt.Errorf("list users: %w", err)
	}
	inCategory, captains := 0, 0
	for _, other := range users {
		if other.ID == self || other.TeamID != u.TeamID {
			continue
		}
		if other.Category == u.Category {
			inCategory++
		}
		if other.IsCaptain {
			captains++
		}
	}
	if inCategory >= u.Category.PermittedPerTeam() {
		return model.Hardware{}, fmt.Errorf("%w: team %d, %s", ErrCategoryFull, u.TeamID, u.Category)
	}
	if u.IsCaptain && captains > 0 {
		return model.Hardware{}, fmt.Errorf("%w: team %d", ErrCaptainTaken, u.TeamID)
	}
	return hw, nil
}

// identityReading fetches the totals of the identity after moves to, or
// returns nil when the identity is unchanged.
func (s *Service) identityReading(ctx context.Context, before model.User, after model.User) (*model.RawStats, error) {
	if before.FoldingUserName == after.FoldingUserName && before.Passkey == after.Passkey {
		return nil, nil
	}
	raw, err := s.openingReading(ctx, after.FoldingUserName, after.Passkey)
	if err != nil {
		return nil, err
	}
	return &raw, nil
}

// openingReading fetches the totals a new attribution period starts from.
// An identity without completed work units is rejected when validation is
// enabled and starts from zero otherwise. Any other failure is a retrieval
// error and never treated as zero.
func (s *Service) openingReading(ctx context.Context, identity, passkey string) (model.RawStats, error) {
	if s.stats == nil {
		return model.RawStats{}, nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	raw, err := s.stats.Fetch(fetchCtx, identity, passkey)
	switch {
	case err == nil:
		return raw, nil
	case errors.Is(err, stats.ErrNoWorkUnits):
		if s.validateWorkUnits {
			return model.RawStats{}, fmt.Errorf("identity %q: %w", identity, err)
		}
		return model.RawStats{}, nil
	default:
		return model.RawStats{}, fmt.Errorf("%w: identity %q: %w", ErrRetrieval, identity, err)
	}
}

func normalizeUser(u *model.User) {
	u.FoldingUserName = strings.TrimSpace(u.FoldingUserName)
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	if u.DisplayName == "" {
		u.DisplayName = u.FoldingUserName
	}
}

func checkUserFields(u model.User) error {
	if u.FoldingUserName == "" {
		return fmt.Errorf("%w: folding user name is required", ErrInvalidInput)
	}
	if !u.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, u.Category)
	}
	return nil
}
