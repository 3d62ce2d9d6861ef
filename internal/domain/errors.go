package domain

import (
	"errors"
	"fmt"
	"time"
)

// BudgetExceededError is returned when the external call budget is spent.
// RetryAfter tells the caller when the window frees up again.
type BudgetExceededError struct {
	RetryAfter time.Duration
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("request budget exceeded, retry after %s", e.RetryAfter)
}

// TransientFetchError marks a fetch failure worth retrying (network errors,
// HTTP 5xx).
type TransientFetchError struct {
	Status int
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient fetch error: %v", e.Err)
	}
	return fmt.Sprintf("transient fetch error: status %d", e.Status)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PermanentFetchError marks a fetch failure that retrying cannot fix
// (HTTP 4xx, auth). The entity is skipped for the cycle.
type PermanentFetchError struct {
	Status int
	Err    error
}

func (e *PermanentFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent fetch error: %v", e.Err)
	}
	return fmt.Sprintf("permanent fetch error: status %d", e.Status)
}

func (e *PermanentFetchError) Unwrap() error { return e.Err }

// StorageError wraps a persistence failure. Transient storage errors are
// retried with the same backoff policy as fetch.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransientFetch reports whether err is retryable at the fetch step.
func IsTransientFetch(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// IsPermanentFetch reports whether err rules out retrying the fetch.
func IsPermanentFetch(err error) bool {
	var p *PermanentFetchError
	return errors.As(err, &p)
}
