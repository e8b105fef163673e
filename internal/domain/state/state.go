// Package state holds the process-wide gate that serializes ledger writes.
//
// A writer must claim a working state from AVAILABLE before touching the
// ledger and release it when done. Only one claim can be held at a time;
// reads are never gated.
package state

import (
	"fmt"
	"sync"
)

// SystemState is the current value of the write gate.
type SystemState string

// System states.
const (
	Available      SystemState = "AVAILABLE"
	ResettingStats SystemState = "RESETTING_STATS"
	UpdatingStats  SystemState = "UPDATING_STATS"
	WriteExecuted  SystemState = "WRITE_EXECUTED"
)

// ParsingState controls whether scheduled stats ingestion may run.
type ParsingState string

// Parsing states.
const (
	ParsingEnabled  ParsingState = "ENABLED_TEAM_COMPETITION"
	ParsingDisabled ParsingState = "DISABLED"
)

// Valid reports whether p is a known parsing state.
func (p ParsingState) Valid() bool {
	return p == ParsingEnabled || p == ParsingDisabled
}

// Listener observes a transition. It runs after the gate lock is released.
type Listener func(from, to SystemState)

type transition struct{ from, to SystemState }

// Gate is the finite-state write gate.
type Gate struct {
	mu        sync.Mutex
	current   SystemState
	parsing   ParsingState
	saved     ParsingState
	listeners []Listener
}

// NewGate returns a gate in AVAILABLE with parsing enabled.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		current: Available,
		parsing: ParsingEnabled,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Current returns the current system state.
func (g *Gate) Current() SystemState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Parsing returns the current parsing state.
func (g *Gate) Parsing() ParsingState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.parsing
}

// SetParsing changes the parsing state. During a reset the value is
// remembered and applied when the reset is released.
func (g *Gate) SetParsing(p ParsingState) error {
	if !p.Valid() {
		return fmt.Errorf("%w: parsing state %q", ErrInvalidTransition, p)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == ResettingStats {
		g.saved = p
		return nil
	}
	g.parsing = p
	return nil
}

// TryClaim moves the gate from AVAILABLE to target, which must be
// RESETTING_STATS or UPDATING_STATS. It reports false when the gate is held.
// Claiming RESETTING_STATS disables parsing until release.
func (g *Gate) TryClaim(target SystemState) bool {
	if target != ResettingStats && target != UpdatingStats {
		return false
	}

	g.mu.Lock()
	if g.current != Available {
		g.mu.Unlock()
		return false
	}
	g.current = target
	if target == ResettingStats {
		g.saved = g.parsing
		g.parsing = ParsingDisabled
	}
	g.mu.Unlock()

	g.notify(transition{Available, target})
	return true
}

// Release passes a held gate through WRITE_EXECUTED back to AVAILABLE.
func (g *Gate) Release() error {
	g.mu.Lock()
	from := g.current
	if from != ResettingStats && from != UpdatingStats {
		g.mu.Unlock()
		return fmt.Errorf("%w: release from %s", ErrInvalidTransition, from)
	}
	if from == ResettingStats {
		g.parsing = g.saved
	}
	g.current = WriteExecuted
	g.mu.Unlock()

	// Listeners see WRITE_EXECUTED while no new claim can succeed.
	g.notify(transition{from, WriteExecuted})

	g.mu.Lock()
	g.current = Available
	g.mu.Unlock()

	g.notify(transition{WriteExecuted, Available})
	return nil
}

// Run claims target, runs fn and releases the gate, whatever fn returns.
// ErrStateConflict is returned when the gate is already held.
func (g *Gate) Run(target SystemState, fn func() error) error {
	if !g.TryClaim(target) {
		return fmt.Errorf("%w: currently %s", ErrStateConflict, g.Current())
	}
	err := fn()
	if releaseErr := g.Release(); releaseErr != nil && err == nil {
		err = releaseErr
	}
	return err
}

func (g *Gate) notify(ts ...transition) {
	for _, t := range ts {
		for _, l := range g.listeners {
			l(t.from, t.to)
		}
	}
}
