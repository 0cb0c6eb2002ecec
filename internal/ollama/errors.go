package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// APIError is a non-2xx response from the Ollama server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a failed generation call is worth retrying
// with a cheaper strategy or another model.
//
// Retryable: deadline expiry, connection aborts/resets, HTTP 404 (model
// not loaded), and any 5xx. Everything else — a refused connection, the
// remaining 4xx family, malformed requests — will fail identically on
// retry, so it's fatal for the candidate.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Deadline expiry is the signal the per-call timer fired. A canceled
	// parent context means the whole request is being torn down; don't
	// keep trying on its behalf.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound ||
			(apiErr.StatusCode >= 500 && apiErr.StatusCode < 600)
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ECONNRESET || errno == syscall.ECONNABORTED
	}

	// Transport-level timeouts are the abort case.
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ShortCode condenses an error into a compact diagnostic token for the
// exhaustion report: the HTTP status for API errors, "deadline" for timer
// expiry, "conn" for transport failures, and a trimmed message otherwise.
func ShortCode(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%d", apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "conn"
	}
	msg := err.Error()
	if len(msg) > 40 {
		msg = msg[:40]
	}
	return msg
}
