package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/teamcomp/internal/domain/model"
)

type monthKey struct {
	year  int
	month time.Month
}

// MemoryStore is an in-process Store. Returned values are copies.
type MemoryStore struct {
	mu sync.RWMutex

	nextTeamID     int
	nextHardwareID int
	nextUserID     int

	teams    map[int]model.Team
	hardware map[int]model.Hardware
	users    map[int]model.User
	retired  []model.RetiredUserSummary
	ledger   map[int]model.LedgerEntry
	results  map[monthKey]model.MonthlyResult
	changes  map[string]model.UserChange
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teams:    make(map[int]model.Team),
		hardware: make(map[int]model.Hardware),
		users:    make(map[int]model.User),
		ledger:   make(map[int]model.LedgerEntry),
		results:  make(map[monthKey]model.MonthlyResult),
		changes:  make(map[string]model.UserChange),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateTeam(_ context.Context, t model.Team) (model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.teams {
		if other.Name == t.Name {
			return model.Team{}, fmt.Errorf("%w: team %q", ErrConflict, t.Name)
		}
	}
	s.nextTeamID++
	t.ID = s.nextTeamID
	s.teams[t.ID] = t
	return t, nil
}

func (s *MemoryStore) UpdateTeam(_ context.Context, t model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[t.ID]; !ok {
		return fmt.Errorf("%w: team %d", ErrNotFound, t.ID)
	}
	for id, other := range s.teams {
		if id != t.ID && other.Name == t.Name {
			return fmt.Errorf("%w: team %q", ErrConflict, t.Name)
		}
	}
	s.teams[t.ID] = t
	return nil
}

func (s *MemoryStore) DeleteTeam(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[id]; !ok {
		return fmt.Errorf("%w: team %d", ErrNotFound, id)
	}
	delete(s.teams, id)
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id int) (model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return model.Team{}, fmt.Errorf("%w: team %d", ErrNotFound, id)
	}
	return t, nil
}

func (s *MemoryStore) ListTeams(_ context.Context) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.teams), nil
}

func (s *MemoryStore) CreateHardware(_ context.Context, h model.Hardware) (model.Hardware, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.hardware {
		if other.Name == h.Name {
			return model.Hardware{}, fmt.Errorf("%w: hardware %q", ErrConflict, h.Name)
		}
	}
	s.nextHardwareID++
	h.ID = s.nextHardwareID
	s.hardware[h.ID] = h
	return h, nil
}

func (s *MemoryStore) UpdateHardware(_ context.Context, h model.Hardware) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hardware[h.ID]; !ok {
		return fmt.Errorf("%w: hardware %d", ErrNotFound, h.ID)
	}
	for id, other := range s.hardware {
		if id != h.ID && other.Name == h.Name {
			return fmt.Errorf("%w: hardware %q", ErrConflict, h.Name)
		}
	}
	s.hardware[h.ID] = h
	return nil
}

func (s *MemoryStore) DeleteHardware(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hardware[id]; !ok {
		return fmt.Errorf("%w: hardware %d", ErrNotFound, id)
	}
	delete(s.hardware, id)
	return nil
}

func (s *MemoryStore) GetHardware(_ context.Context, id int) (model.Hardware, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hardware[id]
	if !ok {
		return model.Hardware{}, fmt.Errorf("%w: hardware %d", ErrNotFound, id)
	}
	return h, nil
}

func (s *MemoryStore) ListHardware(_ context.Context) ([]model.Hardware, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.hardware), nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u.ID = s.nextUserID
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, u.ID)
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return u, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.users), nil
}

func (s *MemoryStore) CreateRetiredUser(_ context.Context, r model.RetiredUserSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.retired {
		if other.ID == r.ID {
			return fmt.Errorf("%w: retired user %s", ErrConflict, r.ID)
		}
	}
	s.retired = append(s.retired, r)
	return nil
}

func (s *MemoryStore) ListRetiredUsers(_ context.Context) ([]model.RetiredUserSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.retired), nil
}

func (s *MemoryStore) DeleteRetiredUsers(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = nil
	return nil
}

func (s *MemoryStore) SaveLedgerEntry(_ context.Context, e model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[e.UserID] = e
	return nil
}

func (s *MemoryStore) DeleteLedgerEntry(_ context.Context, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledger, userID)
	return nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LedgerEntry, 0, len(s.ledger))
	for _, e := range s.ledger {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) SaveMonthlyResult(_ context.Context, r model.MonthlyResult) error {
	if r.Month < time.January || r.Month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalidMonthResult, r.Month)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[monthKey{r.Year, r.Month}] = r
	return nil
}

func (s *MemoryStore) GetMonthlyResult(_ context.Context, year int, month time.Month) (model.MonthlyResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[monthKey{year, month}]
	if !ok {
		return model.MonthlyResult{}, fmt.Errorf("%w: result %04d-%02d", ErrNotFound, year, int(month))
	}
	return r, nil
}

func (s *MemoryStore) ListMonthlyResults(_ context.Context) ([]model.MonthlyResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MonthlyResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

func (s *MemoryStore) CreateUserChange(_ context.Context, c model.UserChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.changes[c.ID]; ok {
		return fmt.Errorf("%w: change %s", ErrConflict, c.ID)
	}
	s.changes[c.ID] = c
	return nil
}

func (s *MemoryStore) UpdateUserChange(_ context.Context, c model.UserChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.changes[c.ID]; !ok {
		return fmt.Errorf("%w: change %s", ErrNotFound, c.ID)
	}
	s.changes[c.ID] = c
	return nil
}

func (s *MemoryStore) GetUserChange(_ context.Context, id string) (model.UserChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.changes[id]
	if !ok {
		return model.UserChange{}, fmt.Errorf("%w: change %s", ErrNotFound, id)
	}
	return c, nil
}

func (s *MemoryStore) ListUserChanges(_ context.Context, states ...model.ChangeState) ([]model.UserChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.UserChange, 0, len(s.changes))
	for _, c := range s.changes {
		if len(states) > 0 && !slices.Contains(states, c.State) {
			continue
		}
		out = append(out, c)
	}
	sortChanges(out)
	return out, nil
}

type identified interface {
	model.Team | model.Hardware | model.User
}

func sortedValues[T identified](m map[int]T) []T {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// sortChanges orders changes by creation time, then id.
func sortChanges(cs []model.UserChange) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
