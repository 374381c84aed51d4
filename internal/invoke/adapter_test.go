package invoke

import (
	"context"
	"errors"
	"testing"
	"time"
)

// noSleep replaces the adapter's backoff wait so tests run instantly while
// still recording the requested delays.
func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func newTestAdapter(p Policy, delays *[]time.Duration) *Adapter {
	a := NewAdapter(p, nil)
	a.sleep = noSleep(delays)
	return a
}

func TestInvokeSucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	a := newTestAdapter(Policy{MaxAttempts: 3}, &delays)

	calls := 0
	resp, err := a.Invoke(context.Background(), Request{
		Service: "svc", Operation: "op",
		Call: func(context.Context) (any, error) {
			calls++
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" || calls != 1 {
		t.Errorf("resp=%v calls=%d; want ok/1", resp, calls)
	}
	if len(delays) != 0 {
		t.Errorf("no backoff expected, got %v", delays)
	}
}

func TestInvokeRetriesTransientUntilExhausted(t *testing.T) {
	var delays []time.Duration
	a := newTestAdapter(Policy{MaxAttempts: 3, BackoffBase: time.Second, BackoffCap: 8 * time.Second, Jitter: false}, &delays)

	calls := 0
	_, err := a.Invoke(context.Background(), Request{
		Service: "vertex.gemini", Operation: "generateContent",
		Call: func(context.Context) (any, error) {
			calls++
			return nil, &StatusError{Code: 429}
		},
	})

	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("want ServiceError, got %v", err)
	}
	if !serr.Transient {
		t.Error("exhausted retries must be marked transient")
	}
	if serr.Attempts != 3 || calls != 3 {
		t.Errorf("attempts=%d calls=%d; want 3/3", serr.Attempts, calls)
	}
	// Exponential: 1s then 2s.
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v; want [1s 2s]", delays)
	}
}

func TestInvokeSucceedsOnLastAttempt(t *testing.T) {
	var delays []time.Duration
	a := newTestAdapter(Policy{MaxAttempts: 3, Jitter: false}, &delays)

	calls := 0
	resp, err := a.Invoke(context.Background(), Request{
		Service: "svc", Operation: "op",
		Call: func(context.Context) (any, error) {
			calls++
			if calls < 3 {
				return nil, &StatusError{Code: 503}
			}
			return 42, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != 42 || calls != 3 {
		t.Errorf("resp=%v calls=%d; want 42/3", resp, calls)
	}
}

func TestInvokeFatalNotRetried(t *testing.T) {
	var delays []time.Duration
	a := newTestAdapter(Policy{MaxAttempts: 3}, &delays)

	calls := 0
	_, err := a.Invoke(context.Background(), Request{
		Service: "gcp.iam", Operation: "listServiceAccounts",
		Call: func(context.Context) (any, error) {
			calls++
			return nil, &StatusError{Code: 403, Body: "permission denied"}
		},
	})

	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("want ServiceError, got %v", err)
	}
	if serr.Transient {
		t.Error("403 must be classified fatal")
	}
	if calls != 1 {
		t.Errorf("fatal error retried: %d calls", calls)
	}
}

func TestInvokeBackoffCap(t *testing.T) {
	var delays []time.Duration
	a := newTestAdapter(Policy{MaxAttempts: 6, BackoffBase: time.Second, BackoffCap: 8 * time.Second, Jitter: false}, &delays)

	_, _ = a.Invoke(context.Background(), Request{
		Service: "svc", Operation: "op",
		Call: func(context.Context) (any, error) {
			return nil, &StatusError{Code: 500}
		},
	})

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v; want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v; want %v", i, delays[i], want[i])
		}
	}
}

// A pathologically small backoff_base must never panic the jitter math and
// must still yield positive, capped delays.
func TestBackoffJitterTinyBase(t *testing.T) {
	a := NewAdapter(Policy{MaxAttempts: 5, BackoffBase: time.Nanosecond, BackoffCap: 4 * time.Nanosecond, Jitter: true}, nil)
	for attempt := 1; attempt <= 5; attempt++ {
		d := a.backoff(attempt)
		if d <= 0 || d > 4*time.Nanosecond {
			t.Errorf("backoff(%d) = %v; want within (0, 4ns]", attempt, d)
		}
	}
}

func TestBackoffShiftOverflowClampedToCap(t *testing.T) {
	a := NewAdapter(Policy{MaxAttempts: 70, BackoffBase: time.Second, BackoffCap: 8 * time.Second, Jitter: false}, nil)
	if d := a.backoff(64); d != 8*time.Second {
		t.Errorf("backoff(64) = %v; want the 8s cap", d)
	}
}

func TestInvokeHonorsCancellation(t *testing.T) {
	var delays []time.Duration
	a := newTestAdapter(Policy{MaxAttempts: 3}, &delays)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := a.Invoke(ctx, Request{
		Service: "svc", Operation: "op",
		Call: func(context.Context) (any, error) {
			calls++
			cancel() // cancelled while the call is in flight
			return nil, &StatusError{Code: 500}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("in-flight cancellation must stop retries, got %d calls", calls)
	}
}

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string     { return e.code }
func (e *fakeAPIError) ErrorCode() string { return e.code }

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"http 429", &StatusError{Code: 429}, true},
		{"http 408", &StatusError{Code: 408}, true},
		{"http 500", &StatusError{Code: 500}, true},
		{"http 503", &StatusError{Code: 503}, true},
		{"http 400", &StatusError{Code: 400}, false},
		{"http 401", &StatusError{Code: 401}, false},
		{"http 403", &StatusError{Code: 403}, false},
		{"http 404", &StatusError{Code: 404}, false},
		{"api throttling", &fakeAPIError{code: "ThrottlingException"}, true},
		{"api resource exhausted", &fakeAPIError{code: "RESOURCE_EXHAUSTED"}, true},
		{"api access denied", &fakeAPIError{code: "AccessDenied"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v; want %v", tc.err, got, tc.want)
			}
		})
	}
}
