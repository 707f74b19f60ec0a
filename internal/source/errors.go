package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies adapter failures. The engine's retry and reporting policy
// is keyed off Kind alone, never off transport details.
type Kind uint8

const (
	// KindUnknown is for unclassified errors; treated like a network failure
	// but never retried.
	KindUnknown Kind = iota

	// KindAuthExpired means credentials were rejected. One retry after a
	// credential refresh, then the account is degraded for the cycle.
	KindAuthExpired

	// KindRateLimited means the backend asked us to slow down.
	KindRateLimited

	// KindNetwork is for transient transport or server failures.
	KindNetwork

	// KindMalformedResponse means the page could not be decoded. The page is
	// dropped and the batch continues.
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network_unavailable"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error is the structured failure returned by adapters.
// Account and Op are optional tags; Err is the wrapped cause.
type Error struct {
	Kind       Kind
	Account    string
	Op         string
	RetryAfter time.Duration // only meaningful for KindRateLimited
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Account != "" {
		msg = e.Account + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithAccount tags err with an account key if it is (or wraps) an *Error,
// or wraps it into a KindUnknown *Error otherwise.
func WithAccount(err error, acct Account) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		cp := *se
		if cp.Account == "" {
			cp.Account = acct.Key()
		}
		return &cp
	}
	return &Error{Kind: KindOf(err), Account: acct.Key(), Err: err}
}

// KindOf classifies any error. Context deadline expiry counts as a network
// failure; cancellation is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// IsRetryable reports whether a bounded immediate retry may succeed.
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetwork
}

// RetryAfterOf returns the backend's requested wait, or zero.
func RetryAfterOf(err error) time.Duration {
	var se *Error
	if errors.As(err, &se) && se.Kind == KindRateLimited {
		return se.RetryAfter
	}
	return 0
}
