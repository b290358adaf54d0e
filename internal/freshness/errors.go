package freshness

import (
	"errors"
	"fmt"
	"time"
)

// Code is a numeric failure category. Non-negative drift measurements and
// HTTP status codes share the same column in result logs, so the fetch
// failure categories are negative.
type Code int

const (
	CodeHTTPUnknown      Code = -1
	CodeTransport        Code = -2
	CodeTimeout          Code = -3
	CodeValidation       Code = -4
	CodeUnsupportedTier  Code = -5
	CodeUnknownTimestamp Code = -6
)

func (c Code) String() string {
	switch c {
	case CodeHTTPUnknown:
		return "http-error"
	case CodeTransport:
		return "unreachable"
	case CodeTimeout:
		return "timeout"
	case CodeValidation:
		return "invalid-response"
	case CodeUnsupportedTier:
		return "unsupported-tier"
	case CodeUnknownTimestamp:
		return "unknown-timestamp"
	}
	if c > 0 {
		return fmt.Sprintf("http-%d", int(c))
	}
	return fmt.Sprintf("code-%d", int(c))
}

// TransportError reports a DNS or connection failure.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http error %d from %s: %s", e.StatusCode, e.URL, e.Status)
}

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetching %s: timed out after %s", e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ParseError reports a response body that does not hold a Unix timestamp.
type ParseError struct {
	URL  string
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("empty timestamp body from %s", e.URL)
	}
	return fmt.Sprintf("invalid timestamp %q from %s: %v", e.Body, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvalidURLError reports a mirror URL that cannot be fetched at all.
type InvalidURLError struct {
	URL string
	Err error
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid mirror URL %s: %v", e.URL, e.Err)
}

func (e *InvalidURLError) Unwrap() error { return e.Err }

// UnsupportedTierError reports a mirror tier without a drift threshold.
type UnsupportedTierError struct {
	Tier int
}

func (e *UnsupportedTierError) Error() string {
	return fmt.Sprintf("no drift threshold defined for tier %d", e.Tier)
}

// ErrorCode maps a fetch error to its failure category.
func ErrorCode(err error) Code {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CodeTimeout
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode <= 0 {
			return CodeHTTPUnknown
		}
		return Code(statusErr.StatusCode)
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return CodeValidation
	}
	var urlErr *InvalidURLError
	if errors.As(err, &urlErr) {
		return CodeValidation
	}
	var tierErr *UnsupportedTierError
	if errors.As(err, &tierErr) {
		return CodeUnsupportedTier
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return CodeTransport
	}
	return CodeHTTPUnknown
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode > 0 {
		return statusErr.StatusCode, true
	}
	return 0, false
}
