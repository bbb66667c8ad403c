package domain

import "errors"

var (
	// ErrNotFound means no such service or snapshot.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName means a service with that name already exists.
	ErrDuplicateName = errors.New("service name already exists")

	// ErrValidation wraps all admin-input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrSnapshotAmbiguous means an upstream exposed two items with the same
	// sort key, so a stable ordering cannot be produced.
	ErrSnapshotAmbiguous = errors.New("snapshot ordering ambiguous")
)
