package repository

import "errors"

// ErrNotFound indicates an entity was not located, or a write affected zero
// rows.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness constraint rejected the write.
var ErrConflict = errors.New("repository: conflict")
