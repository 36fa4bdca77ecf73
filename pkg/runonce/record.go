package runonce

import "time"

// Status is the lifecycle state of a run-once record.
// The numeric values are part of the persisted format and must not change.
type Status int

const (
	StatusInitial Status = iota // pre-insertion only, never persisted
	StatusRunning
	StatusFailedRetryable
	StatusFailedNonRetryable
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "INITIAL"
	case StatusRunning:
		return "RUNNING"
	case StatusFailedRetryable:
		return "FAILED_RETRYABLE"
	case StatusFailedNonRetryable:
		return "FAILED_NON_RETRYABLE"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further handler execution can happen for a
// record in this status. FAILED_RETRYABLE and an expired RUNNING lease are
// re-entrant via Claim; COMPLETED and FAILED_NON_RETRYABLE are not.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedNonRetryable
}

// Record is the durable per-key row. One record exists per idempotency key.
//
// Request holds the serialized preprocessed input for persistent requests and
// is immutable after the first successful insert. Response is set only when
// Status is StatusCompleted.
type Record struct {
	Key        string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     Status
	Request    *string
	Response   *string
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.Request != nil {
		s := *r.Request
		c.Request = &s
	}
	if r.Response != nil {
		s := *r.Response
		c.Response = &s
	}
	return &c
}
