// Package ledger holds, per user, the latest raw external counters, the
// baseline of the current attribution period and the manual offsets.
//
// Writes for one user are serialized by that user's slot lock. Capturing an
// entry and replacing its baseline happen under the same lock, so any reading
// recorded afterwards is attributed to the new period.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/teamcomp/internal/domain/model"
)

// Persister stores ledger rows durably.
type Persister interface {
	SaveLedgerEntry(ctx context.Context, e model.LedgerEntry) error
	DeleteLedgerEntry(ctx context.Context, userID int) error
}

type nopPersister struct{}

func (nopPersister) SaveLedgerEntry(context.Context, model.LedgerEntry) error { return nil }
func (nopPersister) DeleteLedgerEntry(context.Context, int) error             { return nil }

type slot struct {
	mu    sync.Mutex
	entry model.LedgerEntry
}

// Ledger is the single source of truth for attributable stats.
type Ledger struct {
	mu        sync.RWMutex
	slots     map[int]*slot
	persister Persister
}

// New constructs an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		slots:     make(map[int]*slot),
		persister: nopPersister{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load replaces the in-memory state with entries, typically read back from
// the store at startup. Nothing is persisted.
func (l *Ledger) Load(entries []model.LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.slots = make(map[int]*slot, len(entries))
	for _, e := range entries {
		l.slots[e.UserID] = &slot{entry: e}
	}
}

// Open starts a new attribution period for userID at reading raw. An
// existing entry is replaced, so prior contribution is discarded; callers
// retire it first when it must be kept.
func (l *Ledger) Open(ctx context.Context, userID int, raw model.RawStats) (model.LedgerEntry, error) {
	entry := model.LedgerEntry{UserID: userID, Raw: raw, Baseline: raw}
	if err := l.put(ctx, entry); err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

// Restore puts a previously captured entry back, undoing a capture whose
// follow-up failed.
func (l *Ledger) Restore(ctx context.Context, e model.LedgerEntry) error {
	return l.put(ctx, e)
}

func (l *Ledger) put(ctx context.Context, entry model.LedgerEntry) error {
	userID := entry.UserID

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[userID]
	if !ok {
		s = &slot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := l.persister.SaveLedgerEntry(ctx, entry); err != nil {
		return fmt.Errorf("%w: user %d: %w", ErrPersist, userID, err)
	}
	s.entry = entry
	l.slots[userID] = s
	return nil
}

// Record ingests a new absolute reading for userID. A reading lower than
// the previous one is a provider resync: it is accepted, and the baseline of
// each regressed counter moves so the contribution accrued so far is kept.
func (l *Ledger) Record(ctx context.Context, userID int, raw model.RawStats) (model.LedgerEntry, error) {
	_, after, err := l.update(ctx, userID, func(e model.LedgerEntry) model.LedgerEntry {
		accrued := e.Delta()
		if raw.Points < e.Raw.Points {
			e.Baseline.Points = raw.Points - accrued.Points
		}
		if raw.Units < e.Raw.Units {
			e.Baseline.Units = raw.Units - accrued.Units
		}
		e.Raw = raw
		return e
	})
	return after, err
}

// Rebind moves userID onto a different external identity whose current
// reading is raw. The contribution accrued so far is kept.
func (l *Ledger) Rebind(ctx context.Context, userID int, raw model.RawStats) (model.LedgerEntry, error) {
	_, after, err := l.update(ctx, userID, func(e model.LedgerEntry) model.LedgerEntry {
		e.Baseline = raw.Sub(e.Delta())
		e.Raw = raw
		return e
	})
	return after, err
}

// ApplyOffset adds offset to any offset already recorded in the period.
func (l *Ledger) ApplyOffset(ctx context.Context, userID int, offset model.OffsetStats) (model.LedgerEntry, error) {
	_, after, err := l.update(ctx, userID, func(e model.LedgerEntry) model.LedgerEntry {
		e.Offset = e.Offset.Add(offset)
		return e
	})
	return after, err
}

// ClearOffset drops the offsets of userID.
func (l *Ledger) ClearOffset(ctx context.Context, userID int) error {
	_, _, err := l.update(ctx, userID, func(e model.LedgerEntry) model.LedgerEntry {
		e.Offset = model.OffsetStats{}
		return e
	})
	return err
}

// Rebaseline atomically captures the current entry of userID and starts a
// new period at its latest raw reading with no offsets. The captured entry
// is returned.
func (l *Ledger) Rebaseline(ctx context.Context, userID int) (model.LedgerEntry, error) {
	before, _, err := l.update(ctx, userID, rebaseline)
	return before, err
}

// RebaselineAll starts a new period for every user. It excludes all other
// ledger access while running. Users whose entry could not be persisted keep
// their previous state and are reported in the joined error.
func (l *Ledger) RebaselineAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for id, s := range l.slots {
		s.mu.Lock()
		next := rebaseline(s.entry)
		if err := l.persister.SaveLedgerEntry(ctx, next); err != nil {
			errs = append(errs, fmt.Errorf("%w: user %d: %w", ErrPersist, id, err))
		} else {
			s.entry = next
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Remove atomically captures and deletes the entry of userID.
func (l *Ledger) Remove(ctx context.Context, userID int) (model.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[userID]
	if !ok {
		return model.LedgerEntry{}, fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := l.persister.DeleteLedgerEntry(ctx, userID); err != nil {
		return model.LedgerEntry{}, fmt.Errorf("%w: user %d: %w", ErrPersist, userID, err)
	}
	delete(l.slots, userID)
	return s.entry, nil
}

// Get returns the current entry of userID.
func (l *Ledger) Get(userID int) (model.LedgerEntry, bool) {
	l.mu.RLock()
	s, ok := l.slots[userID]
	l.mu.RUnlock()
	if !ok {
		return model.LedgerEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry, true
}

// Entries returns a copy of every entry ordered by user id.
func (l *Ledger) Entries() []model.LedgerEntry {
	l.mu.RLock()
	slots := make([]*slot, 0, len(l.slots))
	for _, s := range l.slots {
		slots = append(slots, s)
	}
	l.mu.RUnlock()

	out := make([]model.LedgerEntry, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.entry)
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of users tracked.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.slots)
}

// update applies fn to the entry of userID under its slot lock. The new entry
// only becomes visible once persisted.
func (l *Ledger) update(ctx context.Context, userID int, fn func(model.LedgerEntry) model.LedgerEntry) (model.LedgerEntry, model.LedgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.slots[userID]
	if !ok {
		return model.LedgerEntry{}, model.LedgerEntry{}, fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.entry
	after := fn(before)
	if err := l.persister.SaveLedgerEntry(ctx, after); err != nil {
		return model.LedgerEntry{}, model.LedgerEntry{}, fmt.Errorf("%w: user %d: %w", ErrPersist, userID, err)
	}
	s.entry = after
	return before, after, nil
}

func rebaseline(e model.LedgerEntry) model.LedgerEntry {
	e.Baseline = e.Raw
	e.Offset = model.OffsetStats{}
	return e
}
