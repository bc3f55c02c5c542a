package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a unique constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
	// ErrUnknownDatabase indicates no store is configured for the requested alias.
	ErrUnknownDatabase = errors.New("repository: unknown database")
)
