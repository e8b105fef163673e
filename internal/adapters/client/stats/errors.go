package stats

import "errors"

// Sentinel kinds for stats retrieval errors.
var (
	// ErrConnection means the provider could not be reached or answered
	// with a server error. It must never be read as zero stats.
	ErrConnection = errors.New("stats provider unreachable")
	// ErrNoWorkUnits means the identity exists but has completed no work.
	ErrNoWorkUnits = errors.New("no completed work units")
	// ErrMalformed means the provider answered with an unusable payload.
	ErrMalformed = errors.New("malformed stats response")
)
