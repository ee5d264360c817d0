package store

import "errors"

var (
	// ErrNotFound is returned when a keyed read finds no row.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a create-only insert hits an existing key.
	ErrAlreadyExists = errors.New("already exists")
)
