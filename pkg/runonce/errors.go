package runonce

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrKeyRequired indicates an empty or whitespace-only idempotency key.
	ErrKeyRequired = errors.New("idempotency key is required")

	// ErrDuplicateKey is returned (wrapped) by Store.Insert when a record
	// with the same key already exists.
	ErrDuplicateKey = errors.New("idempotency key already exists")

	// ErrAlreadyRunning indicates another invocation holds a valid lease on
	// the key. The client may retry after the lease expires.
	ErrAlreadyRunning = errors.New("another invocation with this idempotency key is in progress")

	// ErrOperationFailed indicates a previous invocation failed
	// non-retryably; no retry will ever succeed for this key.
	ErrOperationFailed = errors.New("a previous invocation with this idempotency key failed permanently")
)

// RetryableError marks an error as retryable: the record is left in
// FAILED_RETRYABLE and a later attempt will re-enter the handler.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a retryable failure. Wrapping an already-retryable
// error returns it unchanged.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		return err
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries the retryable marker.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// TimeoutError is produced when a handler exceeds its automatic deadline.
// It is recorded as a retryable failure.
type TimeoutError struct {
	Key string
	TTL time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("handler for key %q exceeded its %s deadline", e.Key, e.TTL)
}

// defaultRetryClassifier treats the retryable marker and caller-initiated
// cancellation as retryable; everything else is permanent.
func defaultRetryClassifier(err error) bool {
	return IsRetryable(err) || errors.Is(err, context.Canceled)
}
