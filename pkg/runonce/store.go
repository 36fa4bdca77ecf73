package runonce

import "context"

// Store is the only plug point of the coordinator. Implementations must make
// each operation atomic with respect to concurrent callers on the same key:
// a unique constraint on the key for Insert, and compare-and-set semantics
// for Claim. Operations run in their own transaction; no store transaction
// ever spans user handler execution.
//
// Timestamps (StartedAt, FinishedAt) are stamped by the store with its own
// clock, which must be non-decreasing. Lease comparisons are made against
// those store-stamped instants.
type Store interface {
	// Insert creates a fresh row with Status = StatusRunning and
	// StartedAt = now. It must return an error wrapping ErrDuplicateKey
	// when a row with the same key already exists.
	Insert(ctx context.Context, rec *Record) error

	// Load reads the current row by key. A missing row is (nil, nil).
	Load(ctx context.Context, key string) (*Record, error)

	// Finish unconditionally sets FinishedAt = now, the given status, and
	// the response blob (which may be nil).
	Finish(ctx context.Context, key string, response *string, status Status) error

	// Claim is a compare-and-set: when the current status equals expected,
	// it sets Status = StatusRunning, StartedAt = now and reports true.
	// Otherwise it reports false and changes nothing. At most one of any
	// set of concurrent claimants may observe true.
	Claim(ctx context.Context, key string, expected Status) (bool, error)
}
