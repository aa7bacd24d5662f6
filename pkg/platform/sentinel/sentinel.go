// Package sentinel holds the storage-level errors shared by every backend.
// Stores wrap them; services map them to domain errors.
package sentinel

import "errors"

var (
	// ErrNotFound: no record under the key.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput: the stored record or the query argument is malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable: the backend could not be reached.
	ErrUnavailable = errors.New("unavailable")
	// ErrAlreadyUsed: a unique name is taken.
	ErrAlreadyUsed = errors.New("already used")
)
