package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"github.com/slack-go/slack"
)

// classifyPlain maps errors that carry no fault classification.
func classifyPlain(err error) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindInternal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindInternal
}

// FromSlackError classifies an error returned by the Slack Web API.
func FromSlackError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &Error{
			Kind:       KindRateLimit,
			Op:         op,
			Message:    "slack rate limited",
			RetryAfter: rl.RetryAfter,
			Cause:      err,
		}
	}

	code := err.Error()
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		code = resp.Err
	}

	kind := KindDependency
	switch code {
	case "invalid_auth", "token_revoked", "not_authed", "account_inactive":
		kind = KindAuthentication
	case "channel_not_found", "not_in_channel", "missing_scope", "access_denied":
		kind = KindPermission
	case "ratelimited", "rate_limited":
		kind = KindRateLimit
	default:
		if k := classifyPlain(err); k == KindTimeout || k == KindNetwork {
			kind = k
		}
	}
	return &Error{Kind: kind, Op: op, Message: "slack: " + code, Cause: err}
}

// FromLLMError classifies an error returned by an LLM backend.
func FromLLMError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Message: "llm request timed out", Cause: err}
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var antErr *anthropic.Error
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	case errors.As(err, &antErr):
		status = antErr.StatusCode
		// anthropic.Error formats its request, which may be absent.
		return statusError(op, status, fmt.Sprintf("anthropic status %d", status), err)
	default:
		return &Error{Kind: KindAIService, Op: op, Message: err.Error(), Cause: err}
	}
	return statusError(op, status, err.Error(), err)
}

func statusError(op string, status int, msg string, cause error) *Error {
	e := &Error{Kind: KindAIService, Op: op, Message: msg, Cause: cause}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.RetryAfter = RetryDelay(KindRateLimit)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case status == http.StatusBadRequest:
		e.Kind = KindInvalidInput
	}
	return e
}

// RetryDelay returns the suggested delay before retrying a failure of kind k.
func RetryDelay(k Kind) time.Duration {
	switch k {
	case KindRateLimit, KindNetwork:
		return 60 * time.Second
	case KindDependency:
		return 300 * time.Second
	case KindTimeout:
		return 120 * time.Second
	default:
		return 0
	}
}

var feedbackMessages = map[Kind]string{
	KindRateLimit:      "I'm receiving a lot of requests right now. Please wait a moment and try again.",
	KindConfiguration:  "I'm having trouble with my configuration. Please contact an administrator for assistance.",
	KindDependency:     "I'm having trouble connecting to external services. Please try again in a few minutes.",
	KindNetwork:        "I'm having trouble connecting to external services. Please try again in a few minutes.",
	KindAIService:      "I'm having trouble connecting to external services. Please try again in a few minutes.",
	KindPermission:     "I don't have permission to perform that action. Please check my permissions or contact an administrator.",
	KindAuthentication: "I don't have permission to perform that action. Please check my permissions or contact an administrator.",
	KindTimeout:        "That request is taking longer than expected. Please try with a smaller request or try again later.",
	KindInvalidInput:   "I couldn't understand that request. Please try rephrasing or providing more specific details.",
	KindToolError:      "I'm sorry, but that feature is currently unavailable. Please try again later or contact an administrator.",
}

const genericFeedback = "I encountered an unexpected error. Please try again or contact support if the problem persists."

var recoverySuggestions = map[Kind][]string{
	KindRateLimit: {
		"Try your request again in 1-2 minutes",
		"Consider breaking large requests into smaller parts",
	},
	KindDependency: {
		"Check if the service is experiencing issues",
		"Try again in 5-10 minutes",
		"Use alternative phrasing for your request",
	},
	KindTimeout: {
		"Try requesting fewer messages or a shorter time period",
		"Break your request into smaller parts",
		"Try again when the system is less busy",
	},
	KindInvalidInput: {
		"Check your message format and try again",
		"Provide more specific details in your request",
		"Use simpler language in your request",
	},
}

// Feedback is the user-facing rendering of a failure.
type Feedback struct {
	Message     string        `json:"message"`
	Kind        Kind          `json:"kind"`
	CanRetry    bool          `json:"can_retry"`
	RetryDelay  time.Duration `json:"retry_delay"`
	Suggestions []string      `json:"recovery_suggestions,omitempty"`
}

// UserFeedback maps err to a message suitable for posting in a channel.
func UserFeedback(err error) Feedback {
	fe := From(err)
	if fe == nil {
		return Feedback{Message: genericFeedback}
	}
	msg, ok := feedbackMessages[fe.Kind]
	if !ok {
		msg = genericFeedback
	}
	if fe.UserGuidance != "" {
		msg = strings.TrimSpace(msg + " " + fe.UserGuidance)
	}
	delay := fe.RetryAfter
	if delay == 0 {
		delay = RetryDelay(fe.Kind)
	}
	return Feedback{
		Message:     msg,
		Kind:        fe.Kind,
		CanRetry:    fe.Kind.IsRetryable(),
		RetryDelay:  delay,
		Suggestions: recoverySuggestions[fe.Kind],
	}
}
