package domain

import "errors"

// Sentinel errors for the failure taxonomy. Callers wrap them with
// fmt.Errorf("...: %w", Err...) and the HTTP layer maps them to status codes
// with errors.Is.
var (
	// ErrValidation marks bad or missing caller input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown store, split or rule.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration marks a missing required credential.
	ErrConfiguration = errors.New("configuration missing")

	// ErrUpstream marks a failed or timed-out platform call.
	ErrUpstream = errors.New("upstream call failed")

	// ErrInternal marks a persistence or transaction failure.
	ErrInternal = errors.New("internal error")
)
