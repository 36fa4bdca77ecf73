package runonce

import (
	"context"
	"time"
)

// Request describes one idempotent operation. It is supplied per invocation
// and is not persisted as a whole; only the preprocessed input of a
// persistent request is written to the record.
type Request[Req, Resp, Result any] struct {
	// Preprocess produces the handler input. For non-persistent requests it
	// runs on every attempt and is assumed idempotent. For persistent
	// requests it runs once; its output is serialized into the record and
	// rehydrated on retries so every attempt sees identical input.
	Preprocess func(ctx context.Context) (Req, error)

	// Handler is the operation the coordinator runs at most once to
	// completion. retry is true when a previous attempt failed retryably or
	// its lease expired. The handler runs outside any store transaction, so
	// side effects against other systems are not rolled back on failure.
	Handler func(ctx context.Context, req Req, retry bool) (Resp, error)

	// Postprocess transforms the response into the caller-visible result.
	// replayed is true when resp was read back from a completed record
	// instead of produced by Handler. Postprocess runs after the record is
	// already COMPLETED: a failure here does not re-open the key, and the
	// next attempt replays the stored response and runs Postprocess again.
	// A nil Postprocess yields the response itself when Result is the
	// response type, and the zero Result otherwise.
	Postprocess func(ctx context.Context, resp Resp, replayed bool) (Result, error)

	// TTL is the lease duration. While a RUNNING record is younger than TTL
	// other attempts are rejected; once it is older, exactly one attempt may
	// reclaim the key. A TTL <= 0 disables both the lease and the automatic
	// timeout, so a crashed worker wedges the key until external repair.
	TTL time.Duration

	// AutomaticTimeout additionally imposes TTL as a hard deadline around
	// Handler. Breaching it fails the invocation with a TimeoutError,
	// recorded as retryable.
	AutomaticTimeout bool

	// Persistent stores the preprocessed input on first insert and
	// rehydrates it on retries instead of recomputing Preprocess.
	Persistent bool

	// RequestCodec and ResponseCodec serialize the preprocessed input and
	// the response. Both default to JSONCodec.
	RequestCodec  Codec[Req]
	ResponseCodec Codec[Resp]

	// IsRetryable overrides the failure classification predicate. The
	// default accepts the retryable marker and context cancellation.
	IsRetryable func(err error) bool
}

func (r *Request[Req, Resp, Result]) requestCodec() Codec[Req] {
	if r.RequestCodec != nil {
		return r.RequestCodec
	}
	return JSONCodec[Req]{}
}

func (r *Request[Req, Resp, Result]) responseCodec() Codec[Resp] {
	if r.ResponseCodec != nil {
		return r.ResponseCodec
	}
	return JSONCodec[Resp]{}
}

func (r *Request[Req, Resp, Result]) classifier() func(error) bool {
	if r.IsRetryable != nil {
		return r.IsRetryable
	}
	return defaultRetryClassifier
}

func (r *Request[Req, Resp, Result]) preprocess(ctx context.Context) (Req, error) {
	if r.Preprocess == nil {
		var zero Req
		return zero, nil
	}
	return r.Preprocess(ctx)
}

func (r *Request[Req, Resp, Result]) postprocess(ctx context.Context, resp Resp, replayed bool) (Result, error) {
	if r.Postprocess == nil {
		// Identity default when the result type is the response type.
		if res, ok := any(resp).(Result); ok {
			return res, nil
		}
		var zero Result
		return zero, nil
	}
	return r.Postprocess(ctx, resp, replayed)
}
