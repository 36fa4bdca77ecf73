package runonce

import (
	"context"
	"errors"
	"fmt"
)

// decision is the arbitration verdict for one invocation.
type decision int

const (
	decisionFresh decision = iota
	decisionRetry
	decisionReplay
)

// outcome carries the decision together with the value the pipeline needs:
// the handler input for fresh/retry, or the stored response for replay.
type outcome[Req, Resp any] struct {
	decision decision
	req      Req
	resp     Resp
}

// arbitrate transacts against the store and decides whether this invocation
// executes, re-executes, or replays. Contention on the same key is resolved
// by the store: the unique key constraint picks the single fresh inserter,
// and the compare-and-set claim picks the single retrier.
func arbitrate[Req, Resp, Result any](ctx context.Context, c *Coordinator, key string, req *Request[Req, Resp, Result]) (outcome[Req, Resp], error) {
	var out outcome[Req, Resp]

	rec, err := c.store.Load(ctx, key)
	if err != nil {
		return out, fmt.Errorf("load record %q: %w", key, err)
	}

	if rec == nil {
		in, err := req.preprocess(ctx)
		if err != nil {
			return out, fmt.Errorf("preprocess %q: %w", key, err)
		}

		fresh := &Record{Key: key, Status: StatusRunning}
		if req.Persistent {
			blob, err := req.requestCodec().Encode(in)
			if err != nil {
				return out, fmt.Errorf("encode request %q: %w", key, err)
			}
			fresh.Request = &blob
		}

		switch err := c.store.Insert(ctx, fresh); {
		case err == nil:
			out.decision = decisionFresh
			out.req = in
			return out, nil
		case errors.Is(err, ErrDuplicateKey):
			// Lost the insert race; fall through to the loaded record.
			rec, err = c.store.Load(ctx, key)
			if err != nil {
				return out, fmt.Errorf("reload record %q: %w", key, err)
			}
			if rec == nil {
				return out, fmt.Errorf("record %q vanished after duplicate insert", key)
			}
		default:
			return out, fmt.Errorf("insert record %q: %w", key, err)
		}
	}

	switch rec.Status {
	case StatusCompleted:
		if rec.Response == nil {
			return out, fmt.Errorf("completed record %q has no response", key)
		}
		resp, err := req.responseCodec().Decode(*rec.Response)
		if err != nil {
			return out, fmt.Errorf("decode response %q: %w", key, err)
		}
		out.decision = decisionReplay
		out.resp = resp
		return out, nil

	case StatusFailedNonRetryable:
		return out, ErrOperationFailed

	case StatusFailedRetryable:
		return claimRetry(ctx, c, key, req, rec, StatusFailedRetryable)

	case StatusRunning:
		if req.TTL > 0 && !c.nowFunc().Before(rec.StartedAt.Add(req.TTL)) {
			// Lease expired; one caller may take over the key.
			return claimRetry(ctx, c, key, req, rec, StatusRunning)
		}
		return out, ErrAlreadyRunning

	default:
		return out, fmt.Errorf("record %q has unexpected status %s", key, rec.Status)
	}
}

// claimRetry attempts the compare-and-set takeover of a re-entrant record.
// Exactly one of any set of concurrent claimants wins; losers observe a
// valid lease held by the winner.
func claimRetry[Req, Resp, Result any](ctx context.Context, c *Coordinator, key string, req *Request[Req, Resp, Result], rec *Record, expected Status) (outcome[Req, Resp], error) {
	var out outcome[Req, Resp]

	ok, err := c.store.Claim(ctx, key, expected)
	if err != nil {
		return out, fmt.Errorf("claim record %q: %w", key, err)
	}
	if !ok {
		return out, ErrAlreadyRunning
	}

	in, err := rehydrate(ctx, req, rec)
	if err != nil {
		return out, fmt.Errorf("rehydrate request %q: %w", key, err)
	}
	out.decision = decisionRetry
	out.req = in
	return out, nil
}

// rehydrate recovers the handler input for a retry: persistent requests
// decode the stored blob so every attempt sees the original input,
// everything else recomputes the preprocessor.
func rehydrate[Req, Resp, Result any](ctx context.Context, req *Request[Req, Resp, Result], rec *Record) (Req, error) {
	if req.Persistent && rec.Request != nil {
		return req.requestCodec().Decode(*rec.Request)
	}
	return req.preprocess(ctx)
}
