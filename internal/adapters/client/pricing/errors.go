package pricing

import "errors"

// Sentinel kinds for pricing retrieval errors.
var (
	ErrConnection = errors.New("pricing provider unreachable")
	ErrMalformed  = errors.New("malformed pricing response")
)
