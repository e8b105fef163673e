package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/teamcomp/internal/adapters/repository"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/pkg/logger"
	"github.com/okian/teamcomp/pkg/metrics"
)

// UserChanges lists change requests, optionally only those in states.
func (s *Service) UserChanges(ctx context.Context, states ...model.ChangeState) ([]model.UserChange, error) {
	for _, st := range states {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown change state %q", ErrInvalidInput, st)
		}
	}
	return s.store.ListUserChanges(ctx, states...)
}

// UserChange returns one change request.
func (s *Service) UserChange(ctx context.Context, id string) (model.UserChange, error) {
	return s.store.GetUserChange(ctx, id)
}

// RequestChange records a request to move a user to the requested values.
// The target hardware and team must exist and fit the user's category, and
// a new external identity must have completed work units.
func (s *Service) RequestChange(ctx context.Context, userID int, requested model.ChangeValues) (model.UserChange, error) {
	requested.FoldingUserName = strings.TrimSpace(requested.FoldingUserName)
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return model.UserChange{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	previous := model.ValuesOf(u)
	if requested == previous {
		return model.UserChange{}, fmt.Errorf("%w: nothing to change", ErrInvalidInput)
	}
	target := requested.Apply(u)
	if err := checkUserFields(target); err != nil {
		return model.UserChange{}, err
	}
	if _, err := s.validateUser(ctx, target, u.ID); err != nil {
		return model.UserChange{}, err
	}
	if _, err := s.identityReading(ctx, u, target); err != nil {
		return model.UserChange{}, err
	}

	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	open, err := s.store.ListUserChanges(ctx, model.ChangeRequested, model.ChangeApprovedNextMonth)
	if err != nil {
		return model.UserChange{}, fmt.Errorf("list changes: %w", err)
	}
	for _, c := range open {
		if c.UserID == userID && c.Requested == requested && (c.State == model.ChangeRequested || c.Pending()) {
			return model.UserChange{}, fmt.Errorf("%w: %s", ErrDuplicateChange, c.ID)
		}
	}

	now := s.now().UTC()
	change := model.UserChange{
		ID:        uuid.NewString(),
		UserID:    userID,
		Previous:  previous,
		Requested: requested,
		State:     model.ChangeRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUserChange(ctx, change); err != nil {
		return model.UserChange{}, fmt.Errorf("store change: %w", err)
	}

	metrics.RecordChangeTransition(string(model.ChangeRequested))
	s.logger.Info(ctx, "user change requested",
		logger.String("change_id", change.ID),
		logger.Int("user_id", userID),
	)
	return change, nil
}

// ApproveNow applies a requested change immediately.
func (s *Service) ApproveNow(ctx context.Context, id string) (model.UserChange, error) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	c, err := s.openChange(ctx, id)
	if err != nil {
		return model.UserChange{}, err
	}
	if err := s.applyChange(ctx, c); err != nil {
		return model.UserChange{}, err
	}
	c.AppliedAt = s.now().UTC()
	return s.transition(ctx, c, model.ChangeApprovedNow)
}

// ApproveNextMonth defers a requested change to the next month end.
func (s *Service) ApproveNextMonth(ctx context.Context, id string) (model.UserChange, error) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	c, err := s.openChange(ctx, id)
	if err != nil {
		return model.UserChange{}, err
	}
	return s.transition(ctx, c, model.ChangeApprovedNextMonth)
}

// Reject declines a requested change.
func (s *Service) Reject(ctx context.Context, id string) (model.UserChange, error) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	c, err := s.openChange(ctx, id)
	if err != nil {
		return model.UserChange{}, err
	}
	return s.transition(ctx, c, model.ChangeRejected)
}

// ApplyPendingChanges applies every change approved for next month, oldest
// approval first, so the latest approval for a user wins. A change whose
// user, hardware or team no longer exists stays pending.
func (s *Service) ApplyPendingChanges(ctx context.Context) (int, error) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	changes, err := s.store.ListUserChanges(ctx, model.ChangeApprovedNextMonth)
	if err != nil {
		return 0, fmt.Errorf("list pending changes: %w", err)
	}
	pending := changes[:0]
	for _, c := range changes {
		if c.Pending() {
			pending = append(pending, c)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].UpdatedAt.Equal(pending[j].UpdatedAt) {
			return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
		}
		return pending[i].ID < pending[j].ID
	})

	applied := 0
	var errs []error
	for _, c := range pending {
		if err := s.applyChange(ctx, c); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.logger.Warn(ctx, "pending change skipped",
					logger.String("change_id", c.ID),
					logger.Int("user_id", c.UserID),
					logger.Error(err),
				)
				continue
			}
			errs = append(errs, fmt.Errorf("change %s: %w", c.ID, err))
			continue
		}
		c.AppliedAt = s.now().UTC()
		c.UpdatedAt = c.AppliedAt
		if err := s.store.UpdateUserChange(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("mark change %s applied: %w", c.ID, err))
			continue
		}
		applied++
	}

	s.logger.Info(ctx, "pending changes applied",
		logger.Int("pending", len(pending)),
		logger.Int("applied", applied),
	)
	return applied, errors.Join(errs...)
}

// openChange loads a change that may still transition.
func (s *Service) openChange(ctx context.Context, id string) (model.UserChange, error) {
	c, err := s.store.GetUserChange(ctx, id)
	if err != nil {
		return model.UserChange{}, fmt.Errorf("get change %s: %w", id, err)
	}
	if c.State.Terminal() {
		return model.UserChange{}, fmt.Errorf("%w: change %s is %s", ErrInvalidState, id, c.State)
	}
	return c, nil
}

// applyChange moves the user of c to the requested values. The request is
// validated again, as teams and hardware may have changed since.
func (s *Service) applyChange(ctx context.Context, c model.UserChange) error {
	u, err := s.store.GetUser(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("get user %d: %w", c.UserID, err)
	}
	target := c.Requested.Apply(u)
	reading, err := s.identityReading(ctx, u, target)
	if err != nil {
		return err
	}
	return s.write(ctx, "apply_change", func() error {
		current, err := s.store.GetUser(ctx, c.UserID)
		if err != nil {
			return fmt.Errorf("get user %d: %w", c.UserID, err)
		}
		return s.editUser(ctx, current, c.Requested.Apply(current), reading)
	})
}

func (s *Service) transition(ctx context.Context, c model.UserChange, to model.ChangeState) (model.UserChange, error) {
	from := c.State
	c.State = to
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateUserChange(ctx, c); err != nil {
		return model.UserChange{}, fmt.Errorf("update change %s: %w", c.ID, err)
	}
	metrics.RecordChangeTransition(string(to))
	s.logger.Info(ctx, "user change transitioned",
		logger.String("change_id", c.ID),
		logger.Int("user_id", c.UserID),
		logger.String("from", string(from)),
		logger.String("to", string(to)),
	)
	return c, nil
}
