package experiment

import "errors"

// Sentinel kinds for engine errors. All are raised synchronously to the
// caller with no internal retry; callers match them with errors.Is.
var (
	// ErrValidation marks malformed or missing input: empty batches, bad
	// timestamps, non-finite values, unknown variant keys.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing experiment for (org, code), after the
	// global-scope fallback.
	ErrNotFound = errors.New("experiment not found")

	// ErrConflict marks a new-assignment attempt against an experiment
	// that is not accepting assignments.
	ErrConflict = errors.New("experiment not active")
)
