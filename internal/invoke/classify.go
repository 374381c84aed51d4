package invoke

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// transientAPICodes are provider error codes that signal throttling or a
// server-side fault worth retrying. Matched against errors exposing an
// ErrorCode() string (the AWS SDK's smithy API errors do).
var transientAPICodes = map[string]struct{}{
	"Throttling":                             {},
	"ThrottlingException":                    {},
	"RequestLimitExceeded":                   {},
	"TooManyRequestsException":               {},
	"ProvisionedThroughputExceededException": {},
	"ServiceUnavailable":                     {},
	"InternalError":                          {},
	"InternalFailure":                        {},
	"RequestTimeout":                         {},
	"RESOURCE_EXHAUSTED":                     {},
	"UNAVAILABLE":                            {},
}

type apiCoder interface{ ErrorCode() string }

// IsTransient reports whether err is worth retrying: attempt timeouts,
// network timeouts, HTTP 408/429/5xx, and provider throttling codes.
// Everything else — including auth failures and malformed requests — is
// fatal and must surface immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.Code
		return code == http.StatusRequestTimeout ||
			code == http.StatusTooManyRequests ||
			code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var coder apiCoder
	if errors.As(err, &coder) {
		_, ok := transientAPICodes[coder.ErrorCode()]
		return ok
	}

	return false
}
