package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrentPosting indicates the store aborted the unit because another posting touched the same rows.
	ErrConcurrentPosting = errors.New("concurrent posting conflict, resubmit")
	// ErrLockNotObtained indicates a posting lock could not be acquired in time.
	ErrLockNotObtained = errors.New("posting lock not obtained")
)
