package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/pkg/logger"
)

// Teams returns every team.
func (s *Service) Teams(ctx context.Context) ([]model.Team, error) {
	return s.store.ListTeams(ctx)
}

// Team returns the team with the given id.
func (s *Service) Team(ctx context.Context, id int) (model.Team, error) {
	return s.store.GetTeam(ctx, id)
}

// CreateTeam stores a new team.
func (s *Service) CreateTeam(ctx context.Context, t model.Team) (model.Team, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return model.Team{}, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	created, err := s.store.CreateTeam(ctx, t)
	if err != nil {
		return model.Team{}, fmt.Errorf("create team: %w", err)
	}
	s.invalidate()
	s.refreshGauges(ctx)
	s.logger.Info(ctx, "team created", logger.Int("team_id", created.ID), logger.String("name", created.Name))
	return created, nil
}

// UpdateTeam replaces the descriptive fields of a team.
func (s *Service) UpdateTeam(ctx context.Context, t model.Team) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	if err := s.store.UpdateTeam(ctx, t); err != nil {
		return fmt.Errorf("update team %d: %w", t.ID, err)
	}
	s.invalidate()
	return nil
}

// DeleteTeam removes a team that has no active users.
func (s *Service) DeleteTeam(ctx context.Context, id int) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.TeamID == id {
			return fmt.Errorf("%w: team %d has active users", ErrInUse, id)
		}
	}
	if err := s.store.DeleteTeam(ctx, id); err != nil {
		return fmt.Errorf("delete team %d: %w", id, err)
	}
	s.invalidate()
	s.refreshGauges(ctx)
	s.logger.Info(ctx, "team deleted", logger.Int("team_id", id))
	return nil
}

// HardwareList returns every piece of hardware.
func (s *Service) HardwareList(ctx context.Context) ([]model.Hardware, error) {
	return s.store.ListHardware(ctx)
}

// Hardware returns the hardware with the given id.
func (s *Service) Hardware(ctx context.Context, id int) (model.Hardware, error) {
	return s.store.GetHardware(ctx, id)
}

// CreateHardware stores new hardware.
func (s *Service) CreateHardware(ctx context.Context, hw model.Hardware) (model.Hardware, error) {
	if err := validateHardware(&hw); err != nil {
		return model.Hardware{}, err
	}
	created, err := s.store.CreateHardware(ctx, hw)
	if err != nil {
		return model.Hardware{}, fmt.Errorf("create hardware: %w", err)
	}
	s.invalidate()
	s.logger.Info(ctx, "hardware created",
		logger.Int("hardware_id", created.ID),
		logger.String("name", created.Name),
		logger.Float64("multiplier", created.Multiplier),
	)
	return created, nil
}

// UpdateHardware replaces a hardware row. Users on hardware whose multiplier
// changes lose their offsets, as those were entered against the old value.
func (s *Service) UpdateHardware(ctx context.Context, hw model.Hardware) error {
	if err := validateHardware(&hw); err != nil {
		return err
	}
	return s.write(ctx, "update_hardware", func() error {
		current, err := s.store.GetHardware(ctx, hw.ID)
		if err != nil {
			return fmt.Errorf("get hardware %d: %w", hw.ID, err)
		}
		if current.Make != hw.Make || current.Type != hw.Type {
			if err := s.checkHardwareUsers(ctx, hw); err != nil {
				return err
			}
		}
		if err := s.store.UpdateHardware(ctx, hw); err != nil {
			return fmt.Errorf("update hardware %d: %w", hw.ID, err)
		}
		if current.Multiplier != hw.Multiplier {
			return s.clearOffsets(ctx, map[int]bool{hw.ID: true})
		}
		return nil
	})
}

// DeleteHardware removes hardware no user is on.
func (s *Service) DeleteHardware(ctx context.Context, id int) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.HardwareID == id {
			return fmt.Errorf("%w: hardware %d is used by user %d", ErrInUse, id, u.ID)
		}
	}
	if err := s.store.DeleteHardware(ctx, id); err != nil {
		return fmt.Errorf("delete hardware %d: %w", id, err)
	}
	s.invalidate()
	return nil
}

// checkHardwareUsers rejects a make or type change that would leave a user
// on hardware its category does not accept.
func (s *Service) checkHardwareUsers(ctx context.Context, hw model.Hardware) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.HardwareID == hw.ID && !u.Category.Compatible(hw.Make, hw.Type) {
			return fmt.Errorf("%w: user %d is %s", ErrIncompatibleCategory, u.ID, u.Category)
		}
	}
	return nil
}

// clearOffsets drops the offsets of every user on the given hardware.
func (s *Service) clearOffsets(ctx context.Context, hardware map[int]bool) error {
	if len(hardware) == 0 {
		return nil
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if !hardware[u.HardwareID] {
			continue
		}
		e, ok := s.ledger.Get(u.ID)
		if !ok || e.Offset.IsZero() {
			continue
		}
		if err := s.ledger.ClearOffset(ctx, u.ID); err != nil {
			return fmt.Errorf("clear offset of user %d: %w", u.ID, err)
		}
		s.logger.Info(ctx, "offset cleared after multiplier change",
			logger.Int("user_id", u.ID),
			logger.Int("hardware_id", u.HardwareID),
		)
	}
	return nil
}

func validateHardware(hw *model.Hardware) error {
	hw.Name = strings.TrimSpace(hw.Name)
	if hw.Name == "" {
		return fmt.Errorf("%w: hardware name is required", ErrInvalidInput)
	}
	if hw.DisplayName == "" {
		hw.DisplayName = hw.Name
	}
	hw.Make = model.HardwareMake(strings.ToUpper(string(hw.Make)))
	hw.Type = model.HardwareType(strings.ToUpper(string(hw.Type)))
	switch hw.Make {
	case model.MakeAMD, model.MakeNvidia, model.MakeIntel:
	default:
		return fmt.Errorf("%w: unknown hardware make %q", ErrInvalidInput, hw.Make)
	}
	switch hw.Type {
	case model.TypeGPU, model.TypeCPU:
	default:
		return fmt.Errorf("%w: unknown hardware type %q", ErrInvalidInput, hw.Type)
	}
	if hw.Multiplier < 0 || math.IsNaN(hw.Multiplier) || math.IsInf(hw.Multiplier, 0) {
		return fmt.Errorf("%w: multiplier must be a non-negative number", ErrInvalidInput)
	}
	if hw.AveragePPD < 0 {
		return fmt.Errorf("%w: average ppd must not be negative", ErrInvalidInput)
	}
	return nil
}
