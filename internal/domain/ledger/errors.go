package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrUnknownUser = errors.New("user has no ledger entry")
	ErrPersist     = errors.New("ledger persist failed")
)
