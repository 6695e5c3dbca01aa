package admission

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an admission error.
type Kind string

const (
	// KindMalformedInput means the request data could not be parsed.
	KindMalformedInput Kind = "malformed_input"

	// KindLimitExceeded means a spending ceiling or rate window is exhausted.
	KindLimitExceeded Kind = "limit_exceeded"

	// KindNotAllowed means the recipient is excluded by address policy.
	KindNotAllowed Kind = "not_allowed"

	// KindInternal means a collaborator (configuration, sink) failed.
	KindInternal Kind = "internal"
)

// Sentinel errors, one per Kind. *Error unwraps to the sentinel of its kind.
var (
	ErrMalformedInput = errors.New("malformed input")
	ErrLimitExceeded  = errors.New("limit exceeded")
	ErrNotAllowed     = errors.New("address not allowed")
	ErrInternal       = errors.New("internal admission failure")
)

// Stable machine-readable codes carried by *Error.
const (
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeInvalidAddress      = "INVALID_ADDRESS"
	CodeInvalidBatch        = "INVALID_BATCH"
	CodeInvalidCategory     = "INVALID_CATEGORY"
	CodeNoLimitConfigured   = "NO_LIMIT_CONFIGURED"
	CodePerTransactionLimit = "PER_TRANSACTION_LIMIT"
	CodeDailyTokenLimit     = "DAILY_TOKEN_LIMIT"
	CodeDailyTotalLimit     = "DAILY_TOTAL_LIMIT"
	CodeBatchSizeLimit      = "BATCH_SIZE_LIMIT"
	CodeBatchTotalLimit     = "BATCH_TOTAL_LIMIT"
	CodeRateLimited         = "RATE_LIMITED"
	CodeAddressNotAllowed   = "ADDRESS_NOT_ALLOWED"
	CodeConfigUnavailable   = "CONFIG_UNAVAILABLE"
	CodeSinkFailure         = "SINK_FAILURE"
)

// Error provides detailed context about an admission rejection.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Code is a stable machine-readable code (e.g. DAILY_TOKEN_LIMIT).
	Code string

	// Reason is the human-readable explanation.
	Reason string

	// Label is the allowlist label of the recipient, if any.
	Label string

	// Limit is the configured ceiling that was hit, if any.
	Limit string

	// Current is the usage value that would have exceeded Limit.
	Current string

	// RetryAfter is how long until the request may succeed (rate windows only).
	RetryAfter time.Duration

	// Err is an optional underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Reason)
	if e.Limit != "" {
		fmt.Fprintf(&sb, " (current=%s, limit=%s)", e.Current, e.Limit)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&sb, " (retry after %s)", e.RetryAfter.Round(time.Second))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap returns the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether the same request may succeed later without change.
func (e *Error) Retryable() bool {
	return e.Kind == KindLimitExceeded
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindMalformedInput:
		return ErrMalformedInput
	case KindLimitExceeded:
		return ErrLimitExceeded
	case KindNotAllowed:
		return ErrNotAllowed
	default:
		return ErrInternal
	}
}

// Malformed creates a KindMalformedInput error.
func Malformed(code, format string, args ...any) *Error {
	return &Error{Kind: KindMalformedInput, Code: code, Reason: fmt.Sprintf(format, args...)}
}

// LimitExceeded creates a KindLimitExceeded error carrying the ceiling and the
// usage that would have exceeded it.
func LimitExceeded(code, reason, current, limit string) *Error {
	return &Error{Kind: KindLimitExceeded, Code: code, Reason: reason, Current: current, Limit: limit}
}

// RateLimited creates a KindLimitExceeded error with a retry hint.
func RateLimited(reason string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindLimitExceeded, Code: CodeRateLimited, Reason: reason, RetryAfter: retryAfter}
}

// NotAllowed creates a KindNotAllowed error.
func NotAllowed(reason, label string) *Error {
	return &Error{Kind: KindNotAllowed, Code: CodeAddressNotAllowed, Reason: reason, Label: label}
}

// Internal wraps a collaborator failure.
func Internal(code, reason string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: code, Reason: reason, Err: cause}
}

// CodeOf returns the Code of err if it is (or wraps) an *Error, or "" otherwise.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
