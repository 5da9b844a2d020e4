package network

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the exchange answered 429 and the retry
// budget is exhausted. Strategies back off and retry instead of treating
// it as fatal.
var ErrRateLimited = errors.New("rate limited by exchange")

// ErrConnClosed is returned from Send after the connection has been closed
// locally or lost.
var ErrConnClosed = errors.New("websocket connection closed")

// NetworkError wraps a transport-level failure: dial errors, timeouts,
// broken connections. Always retryable by the owning strategy.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError reports a non-2xx response that is not worth retrying at the
// transport layer (4xx other than 429).
type HTTPError struct {
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
