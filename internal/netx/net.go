// Package netx classifies HTTP and network failures for retry decisions.
package netx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"
)

// IsTransientStatus reports whether an HTTP status should be retried later
// rather than treated as a permanent rejection: 5xx, 408 and 429.
// 401 is included because it means the credential went stale mid-flight.
func IsTransientStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code == http.StatusUnauthorized:
		return true
	}
	return false
}

// IsTransientError reports whether a transport error (no HTTP response)
// is worth retrying: timeouts, cancellation, connection-level failures.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// RetryAfter parses the Retry-After header (delta seconds or HTTP date).
// It returns 0 when the header is absent or malformed.
func RetryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
