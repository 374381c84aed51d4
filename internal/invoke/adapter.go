package invoke

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Policy holds the retry and timeout settings for an Adapter.
type Policy struct {
	// MaxAttempts is the total number of tries for a transient failure.
	MaxAttempts int

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// BackoffBase is the delay before the second attempt; it doubles per
	// attempt up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Jitter randomises each delay into [delay/2, delay) to avoid
	// synchronised retries across concurrent sub-collectors.
	Jitter bool
}

// DefaultPolicy returns the standard retry policy: 3 attempts, 30s per
// attempt, backoff 1s doubling to an 8s cap, jitter on.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Timeout:     30 * time.Second,
		BackoffBase: 1 * time.Second,
		BackoffCap:  8 * time.Second,
		Jitter:      true,
	}
}

// normalized fills zero fields with the defaults.
func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = d.BackoffCap
	}
	return p
}

// Adapter is the production Invoker. It applies the per-attempt timeout,
// classifies failures, and retries transient ones with capped exponential
// backoff. Cancellation is honored between attempts: an in-flight call is
// allowed to finish or time out, never interrupted mid-write.
type Adapter struct {
	policy Policy
	log    *slog.Logger

	// sleep is swapped out in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdapter returns an Adapter with the given policy. Zero policy fields
// fall back to DefaultPolicy values.
func NewAdapter(policy Policy, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		policy: policy.normalized(),
		log:    log,
		sleep:  sleepCtx,
	}
}

// Invoke implements Invoker.
func (a *Adapter) Invoke(ctx context.Context, req Request) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, a.policy.Timeout)
		resp, err := req.Call(attemptCtx)
		cancel()

		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// The run was cancelled while the call was in flight.
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			return nil, &ServiceError{
				Service:   req.Service,
				Operation: req.Operation,
				Attempts:  attempt,
				Err:       err,
			}
		}

		lastErr = err
		if attempt == a.policy.MaxAttempts {
			break
		}

		delay := a.backoff(attempt)
		a.log.Warn("transient failure, retrying",
			"service", req.Service, "operation", req.Operation,
			"attempt", attempt, "backoff", delay.String(), "error", err)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &ServiceError{
		Service:   req.Service,
		Operation: req.Operation,
		Transient: true,
		Attempts:  a.policy.MaxAttempts,
		Err:       lastErr,
	}
}

// backoff returns the delay after the given 1-based attempt number. The
// shift can overflow on high attempt counts; a non-positive delay is
// clamped to the cap.
func (a *Adapter) backoff(attempt int) time.Duration {
	delay := a.policy.BackoffBase << (attempt - 1)
	if delay > a.policy.BackoffCap || delay <= 0 {
		delay = a.policy.BackoffCap
	}
	if a.policy.Jitter {
		// A sub-2ns delay has no room to jitter; rand.Int63n panics on 0.
		if half := delay / 2; half > 0 {
			delay = half + time.Duration(rand.Int63n(int64(half)))
		}
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
