package service

import (
	"errors"

	"github.com/okian/teamcomp/internal/domain/state"
)

// Sentinel error kinds for this package.
var (
	ErrRetrieval            = errors.New("stats retrieval failed")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidInput         = errors.New("invalid input")
	ErrIncompatibleCategory = errors.New("hardware is not compatible with category")
	ErrCategoryFull         = errors.New("team has no free slot for category")
	ErrCaptainTaken         = errors.New("team already has a captain")
	ErrInUse                = errors.New("still referenced")
	ErrDuplicateChange      = errors.New("identical change already pending")
	ErrIngestionDisabled    = errors.New("stats ingestion is disabled")
)

func isConflict(err error) bool {
	return errors.Is(err, state.ErrStateConflict)
}
