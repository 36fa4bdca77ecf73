// Package runonce coordinates idempotent execution of business operations
// across processes sharing a record store. Given a caller-supplied key, a
// user handler runs at most once to completion: repeated invocations are
// serialized through the store, replay the recorded response, or re-run the
// handler only when the earlier attempt failed retryably or its lease
// expired.
package runonce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Coordinator is the single public entry point, combining arbitration and
// the execution pipeline over one Store. It holds no in-process locks; all
// mutual exclusion comes from the store's unique-key and compare-and-set
// semantics.
type Coordinator struct {
	store   Store
	monitor safeMonitor
	metrics *Metrics
	nowFunc func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMonitor installs a lifecycle event sink. Events are delivered through
// a recovering wrapper, so monitor failures are swallowed.
func WithMonitor(m Monitor) Option {
	return func(c *Coordinator) { c.monitor = safeMonitor{m: m} }
}

// WithMetrics installs Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the coordinator's clock used for lease-expiry
// comparisons. The default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.nowFunc = now }
}

// New returns a Coordinator over the given store.
func New(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunOnce executes req under key with at-most-once completion semantics.
//
// The returned error is one of: ErrKeyRequired for an unusable key;
// ErrAlreadyRunning while another invocation holds the lease;
// ErrOperationFailed once the key is latched by a non-retryable failure; a
// retryable-marked error (including TimeoutError breaches) after the record
// was marked FAILED_RETRYABLE; the handler's own error after
// FAILED_NON_RETRYABLE; or a fatal store error, which leaves the record
// untouched (a RUNNING record then waits for lease expiry).
//
// The record is marked COMPLETED before Postprocess runs: a Postprocess
// failure does not re-open the key, and the next invocation replays the
// stored response and runs Postprocess again.
func RunOnce[Req, Resp, Result any](ctx context.Context, c *Coordinator, key string, req Request[Req, Resp, Result]) (Result, error) {
	var zero Result

	if strings.TrimSpace(key) == "" {
		return zero, ErrKeyRequired
	}

	out, err := arbitrate(ctx, c, key, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			c.monitor.AlreadyRunning(key)
			c.metrics.recordCollision()
		case errors.Is(err, ErrOperationFailed):
			c.monitor.Error(key, err)
		default:
			c.metrics.recordStorageError()
		}
		return zero, err
	}

	switch out.decision {
	case decisionReplay:
		c.monitor.Replay(key)
		c.metrics.recordReplay()
		res, err := req.postprocess(ctx, out.resp, true)
		if err != nil {
			// The record stays COMPLETED; only the transformation failed.
			c.monitor.Error(key, err)
			return zero, classifyDelivery(err, req.classifier())
		}
		return res, nil

	case decisionRetry:
		c.monitor.Retry(key)
		c.metrics.recordExecution("retry")
	default:
		c.monitor.Started(key)
		c.metrics.recordExecution("fresh")
	}

	return execute(ctx, c, key, &req, out.req, out.decision == decisionRetry)
}

// execute drives handler -> record completion -> postprocess for a fresh or
// retried invocation. The handler runs outside any store transaction.
func execute[Req, Resp, Result any](ctx context.Context, c *Coordinator, key string, req *Request[Req, Resp, Result], in Req, retry bool) (Result, error) {
	var zero Result

	start := c.nowFunc()
	resp, err := invokeHandler(ctx, key, req, in, retry)
	c.metrics.observeHandlerDuration(c.nowFunc().Sub(start).Seconds())
	if err != nil {
		return zero, c.recordFailure(ctx, key, err, req.classifier())
	}

	blob, err := req.responseCodec().Encode(resp)
	if err != nil {
		return zero, c.recordFailure(ctx, key, fmt.Errorf("encode response: %w", err), req.classifier())
	}
	if err := c.store.Finish(ctx, key, &blob, StatusCompleted); err != nil {
		// Fatal: the record stays RUNNING until the lease reclaims it.
		c.metrics.recordStorageError()
		return zero, fmt.Errorf("record completion for %q: %w", key, err)
	}
	c.monitor.Finished(key)

	res, err := req.postprocess(ctx, resp, false)
	if err != nil {
		// COMPLETED was already written; the operation itself is done and
		// later attempts will replay. Only the delivery is classified.
		c.monitor.Error(key, err)
		return zero, classifyDelivery(err, req.classifier())
	}
	return res, nil
}

// invokeHandler runs the user handler, imposing TTL as a hard deadline when
// AutomaticTimeout is set. The handler runs in its own goroutine so a
// non-cooperative handler still breaches the deadline on time; such a
// goroutine is abandoned, which is the documented cost of the hard timeout.
func invokeHandler[Req, Resp, Result any](ctx context.Context, key string, req *Request[Req, Resp, Result], in Req, retry bool) (Resp, error) {
	if !req.AutomaticTimeout || req.TTL <= 0 {
		return req.Handler(ctx, in, retry)
	}

	hctx, cancel := context.WithTimeout(ctx, req.TTL)
	defer cancel()

	type handlerResult struct {
		resp Resp
		err  error
	}
	done := make(chan handlerResult, 1)
	go func() {
		resp, err := req.Handler(hctx, in, retry)
		done <- handlerResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-hctx.Done():
		var zero Resp
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return zero, &TimeoutError{Key: key, TTL: req.TTL}
		}
		return zero, hctx.Err()
	}
}

// recordFailure classifies a handler error, writes the matching terminal
// status, and shapes the error surfaced to the caller. A failure of the
// recording write supersedes the handler error and is fatal.
func (c *Coordinator) recordFailure(ctx context.Context, key string, err error, retryable func(error) bool) error {
	var te *TimeoutError
	switch {
	case errors.As(err, &te):
		c.monitor.Timeout(key, err)
		c.metrics.recordTimeout()
		if ferr := c.store.Finish(ctx, key, nil, StatusFailedRetryable); ferr != nil {
			c.metrics.recordStorageError()
			return fmt.Errorf("record timeout for %q: %w", key, ferr)
		}
		c.monitor.MarkedRetryable(key)
		c.metrics.recordFailure("retryable")
		return Retryable(err)

	case retryable(err):
		c.monitor.Error(key, err)
		if ferr := c.store.Finish(ctx, key, nil, StatusFailedRetryable); ferr != nil {
			c.metrics.recordStorageError()
			return fmt.Errorf("record retryable failure for %q: %w", key, ferr)
		}
		c.monitor.MarkedRetryable(key)
		c.metrics.recordFailure("retryable")
		return Retryable(err)

	default:
		c.monitor.Error(key, err)
		if ferr := c.store.Finish(ctx, key, nil, StatusFailedNonRetryable); ferr != nil {
			c.metrics.recordStorageError()
			return fmt.Errorf("record non-retryable failure for %q: %w", key, ferr)
		}
		c.monitor.MarkedNonRetryable(key)
		c.metrics.recordFailure("non_retryable")
		return err
	}
}

// classifyDelivery shapes a postprocess error for the caller without any
// store transition: retryable-classified errors carry the marker, others
// surface unchanged.
func classifyDelivery(err error, retryable func(error) bool) error {
	if retryable(err) {
		return Retryable(err)
	}
	return err
}
