// Package repository defines the persistence boundary of the competition and
// its memory and SQL implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/teamcomp/internal/domain/model"
)

// TeamStore persists teams.
type TeamStore interface {
	CreateTeam(ctx context.Context, t model.Team) (model.Team, error)
	UpdateTeam(ctx context.Context, t model.Team) error
	DeleteTeam(ctx context.Context, id int) error
	GetTeam(ctx context.Context, id int) (model.Team, error)
	ListTeams(ctx context.Context) ([]model.Team, error)
}

// HardwareStore persists hardware.
type HardwareStore interface {
	CreateHardware(ctx context.Context, h model.Hardware) (model.Hardware, error)
	UpdateHardware(ctx context.Context, h model.Hardware) error
	DeleteHardware(ctx context.Context, id int) error
	GetHardware(ctx context.Context, id int) (model.Hardware, error)
	ListHardware(ctx context.Context) ([]model.Hardware, error)
}

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	UpdateUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, id int) error
	GetUser(ctx context.Context, id int) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

// RetiredStore persists retired user summaries. Summaries are immutable;
// they are only created, or dropped together by the monthly reset.
type RetiredStore interface {
	CreateRetiredUser(ctx context.Context, r model.RetiredUserSummary) error
	ListRetiredUsers(ctx context.Context) ([]model.RetiredUserSummary, error)
	DeleteRetiredUsers(ctx context.Context) error
}

// LedgerStore persists ledger rows. It satisfies ledger.Persister.
type LedgerStore interface {
	SaveLedgerEntry(ctx context.Context, e model.LedgerEntry) error
	DeleteLedgerEntry(ctx context.Context, userID int) error
	ListLedgerEntries(ctx context.Context) ([]model.LedgerEntry, error)
}

// ResultStore persists monthly results. Saving a month that already has a
// result replaces it.
type ResultStore interface {
	SaveMonthlyResult(ctx context.Context, r model.MonthlyResult) error
	GetMonthlyResult(ctx context.Context, year int, month time.Month) (model.MonthlyResult, error)
	ListMonthlyResults(ctx context.Context) ([]model.MonthlyResult, error)
}

// ChangeStore persists user change requests.
type ChangeStore interface {
	CreateUserChange(ctx context.Context, c model.UserChange) error
	UpdateUserChange(ctx context.Context, c model.UserChange) error
	GetUserChange(ctx context.Context, id string) (model.UserChange, error)
	// ListUserChanges returns changes ordered by creation time, limited to states
	// when any are given.
	ListUserChanges(ctx context.Context, states ...model.ChangeState) ([]model.UserChange, error)
}

// Store provides read/write access to all competition state.
type Store interface {
	TeamStore
	HardwareStore
	UserStore
	RetiredStore
	LedgerStore
	ResultStore
	ChangeStore

	Close() error
}
