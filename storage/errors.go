package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a session is not found.
	ErrNotFound = errors.New("session not found")
)
