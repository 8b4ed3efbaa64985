package store

import "errors"

// ErrNotFound is returned when a record doesn't exist
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a record violates a uniqueness constraint
var ErrConflict = errors.New("record already exists")
