// Package fault defines the error kinds shared by every threadwise component.
//
// Components return *Error values (or Result values wrapping them) instead of
// panicking across boundaries. The Kind drives retry decisions, user-visible
// feedback, and metrics labels.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes a failure.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindAuthentication  Kind = "authentication"
	KindPermission      Kind = "permission"
	KindRateLimit       Kind = "rate_limit"
	KindInvalidInput    Kind = "invalid_input"
	KindToolError       Kind = "tool_error"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
	KindConfiguration   Kind = "configuration"
	KindDependency      Kind = "dependency"
	KindContextAnalysis Kind = "context_analysis"
	KindAIService       Kind = "ai_service"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{
	KindNetwork, KindAuthentication, KindPermission, KindRateLimit,
	KindInvalidInput, KindToolError, KindTimeout, KindInternal,
	KindConfiguration, KindDependency, KindContextAnalysis, KindAIService,
}

// IsRetryable reports whether a failure of this kind may succeed on retry.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindNetwork, KindRateLimit, KindTimeout, KindDependency, KindAIService:
		return true
	default:
		return false
	}
}

// Error is a classified failure.
type Error struct {
	Kind         Kind
	Op           string
	Message      string
	RetryAfter   time.Duration
	UserGuidance string
	Cause        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var msg string
	if e.Op != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
	} else {
		msg = fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error may succeed on retry.
func (e *Error) IsRetryable() bool {
	return e != nil && e.Kind.IsRetryable()
}

// WithRetryAfter sets the suggested wait before retrying.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithGuidance sets a hint shown to the user.
func (e *Error) WithGuidance(guidance string) *Error {
	e.UserGuidance = guidance
	return e
}

// WithOp sets the failing operation.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. Existing *Error causes keep their kind
// unless it is empty.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	var fe *Error
	if errors.As(cause, &fe) && fe.Kind != "" {
		kind = fe.Kind
	}
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Cause: cause}
}

// From returns err as an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: classifyPlain(err), Message: err.Error(), Cause: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).IsRetryable()
}
