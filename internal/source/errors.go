package source

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx responses.
	KindTransient Kind = iota + 1
	// KindRateLimited is a 429 or an upstream quota message.
	KindRateLimited
	// KindMalformed means the body held no usable integer.
	KindMalformed
	// KindFatal is a 4xx other than 429, or an unusable endpoint.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is returned by Fetch for every failure.
type Error struct {
	Kind Kind
	// Op is the step that failed: "request", "read", "status" or "extract".
	Op string
	// Status is the HTTP status code, 0 when no response was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("source %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("source %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// Lower-case markers of an upstream quota message.
var quotaMarkers = [][]byte{
	[]byte("resource_exhausted"),
	[]byte("quota"),
	[]byte("rate limit"),
}

func mentionsQuota(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range quotaMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps a non-2xx response to an *Error.
func ClassifyStatus(status int, body []byte) *Error {
	err := fmt.Errorf("unexpected status %d", status)
	switch {
	case status == http.StatusTooManyRequests || mentionsQuota(body):
		return &Error{Kind: KindRateLimited, Op: "status", Status: status, Err: err}
	case status >= 500, status == http.StatusRequestTimeout:
		return &Error{Kind: KindTransient, Op: "status", Status: status, Err: err}
	default:
		return &Error{Kind: KindFatal, Op: "status", Status: status, Err: err}
	}
}
