package shared

import "errors"

var (
	// ErrNotFound indicates a missing product, warehouse, movement or inventory.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict indicates a lost update detected by the version check.
	ErrVersionConflict = errors.New("concurrent modification conflict")
	// ErrInvalidState indicates an operation attempted against a terminal or
	// wrong-state entity.
	ErrInvalidState = errors.New("invalid state for operation")
)
