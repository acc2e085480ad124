package store

import "errors"

var (
	// ErrNotFound wraps GORM's not found error for consistency
	ErrNotFound = errors.New("record not found")

	// ErrCodeConflict is returned by CreateDeviceAuthorization when a
	// generated device-code hash or user code collides with an existing
	// record. Callers retry with freshly generated codes.
	ErrCodeConflict = errors.New("authorization code conflict")

	// ErrStaleTransition is returned by guarded updates when the record
	// was not in the expected state (0 rows updated), i.e. a concurrent
	// request got there first.
	ErrStaleTransition = errors.New("authorization not in expected status")
)
