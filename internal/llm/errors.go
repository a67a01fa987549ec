package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a failed call by what the caller can do about it.
type ErrorKind int

const (
	// KindUnavailable is a network failure or a 5xx; worth retrying.
	KindUnavailable ErrorKind = iota
	// KindRateLimited is a 429; retry after RetryAfter when known.
	KindRateLimited
	// KindRejected is any other 4xx: bad key, unknown model, bad request.
	KindRejected
	// KindInvalid means the content failed to parse or match the schema.
	KindInvalid
	// KindTruncated means the completion hit the token cap.
	KindTruncated
	// KindRefused means the model declined to answer.
	KindRefused
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate limited"
	case KindRejected:
		return "rejected"
	case KindInvalid:
		return "invalid response"
	case KindTruncated:
		return "truncated"
	case KindRefused:
		return "refused"
	}
	return "unknown"
}

// Error is returned by every provider in this package.
type Error struct {
	Kind       ErrorKind
	Provider   string
	RetryAfter time.Duration
	// Content is the raw completion for KindInvalid and KindTruncated.
	Content json.RawMessage
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a second attempt might succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindRateLimited, KindInvalid:
		return true
	}
	return false
}

// KindOf returns the kind of an *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// statusError maps an HTTP status from an SDK error onto an Error.
func statusError(provider string, status int, err error) *Error {
	kind := KindUnavailable
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 400 && status < 500:
		kind = KindRejected
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}
