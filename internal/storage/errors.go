package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrNotActive is returned when an operation requires an active test case
// but the row is gravestoned (or the reverse, for restore).
var ErrNotActive = errors.New("storage: test case state does not allow this operation")
