// Package invoke is the single gateway for calls to external services: the
// cloud provider APIs during Collect and the generative model during
// Explain. Every call carries a timeout; transient failures (timeouts,
// rate limiting, 5xx) are retried with capped exponential backoff, while
// fatal failures (auth, malformed request) surface immediately.
package invoke

import (
	"context"
	"fmt"
)

// Request describes one external call. Call performs the actual work and is
// re-executed on each retry attempt; it must therefore be idempotent.
type Request struct {
	// Service names the external system, e.g. "gcp.cloudresourcemanager"
	// or "vertex.gemini". Used in errors and logs only.
	Service string

	// Operation names the call within the service, e.g. "getIamPolicy".
	Operation string

	// Call performs the request. The supplied context carries the
	// per-attempt timeout.
	Call func(ctx context.Context) (any, error)
}

// Invoker executes external requests. The production implementation is
// Adapter; stages never talk to external services except through this
// interface.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (any, error)
}

// ServiceError is the terminal error for a failed external call.
// Transient marks retry-exhausted transient failures; fatal failures carry
// Transient=false and Attempts=1.
type ServiceError struct {
	Service   string
	Operation string
	Transient bool
	Attempts  int
	Err       error
}

func (e *ServiceError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient (retries exhausted)"
	}
	return fmt.Sprintf("external service %s/%s: %s after %d attempt(s): %v",
		e.Service, e.Operation, kind, e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// StatusError carries an HTTP status from a REST call so the adapter can
// classify it. Sources constructing REST requests return this for non-2xx
// responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}
