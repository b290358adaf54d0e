package freshness

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp reads a decimal Unix timestamp, ignoring surrounding
// whitespace. An empty body is a *ParseError with an empty Body.
func ParseTimestamp(body []byte) (time.Time, error) {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return time.Time{}, &ParseError{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if len(s) > 64 {
			s = s[:64]
		}
		return time.Time{}, &ParseError{Body: s, Err: err}
	}
	return time.Unix(n, 0).UTC(), nil
}

// FetchTimestamp fetches path from src and parses the body.
func FetchTimestamp(ctx context.Context, src Source, path string) (time.Time, error) {
	body, err := src.Fetch(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := ParseTimestamp(body)
	if err != nil {
		if perr, ok := err.(*ParseError); ok {
			perr.URL = src.String() + path
		}
		return time.Time{}, err
	}
	return ts, nil
}
