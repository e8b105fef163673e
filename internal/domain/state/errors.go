package state

import "errors"

// Sentinel kinds for gate errors.
var (
	ErrStateConflict     = errors.New("system state does not allow this operation")
	ErrInvalidTransition = errors.New("invalid system state transition")
)
