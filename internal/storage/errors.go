package storage

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert collides with an existing
	// unique key. Sync jobs treat this as an expected skip, not a failure.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidCredentials is returned when login verification fails.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken is returned when signup reuses an existing email.
	ErrEmailTaken = errors.New("email already registered")
)
