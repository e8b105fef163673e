package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound           = errors.New("record not found")
	ErrConflict           = errors.New("record already exists")
	ErrUnsupportedDriver  = errors.New("unsupported database driver")
	ErrInvalidMonthResult = errors.New("invalid monthly result")
)
