package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code string
type Code string

const (
	CodeMissingAPIKey        Code = "MISSING_API_KEY"
	CodeInvalidAPIKey        Code = "INVALID_API_KEY"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeQueueAccessDenied    Code = "QUEUE_ACCESS_DENIED"
	CodeQueueNotFound        Code = "QUEUE_NOT_FOUND"
	CodeJobNotFound          Code = "JOB_NOT_FOUND"
	CodeJobTerminal          Code = "JOB_TERMINAL"
	CodeSubscriptionNotFound Code = "SUBSCRIPTION_NOT_FOUND"
	CodeScheduleNotFound     Code = "SCHEDULE_NOT_FOUND"
	CodeApplicationNotFound  Code = "APPLICATION_NOT_FOUND"
	CodeMissingData          Code = "MISSING_DATA"
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// ActionCode builds an action-qualified error code, e.g. ActionCode("ENQUEUE")
// yields "ENQUEUE_ERROR".
func ActionCode(action string) Code {
	return Code(action + "_ERROR")
}

// Error is the typed error surfaced to API clients. The structured hint
// fields make responses actionable for machine consumers.
type Error struct {
	Code           Code     `json:"code"`
	Message        string   `json:"message"`
	Hints          []string `json:"hints,omitempty"`
	PossibleCauses []string `json:"possibleCauses,omitempty"`
	SuggestedFixes []string `json:"suggestedFixes,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithHints attaches hint strings and returns the error for chaining
func (e *Error) WithHints(hints ...string) *Error {
	e.Hints = append(e.Hints, hints...)
	return e
}

// WithCauses attaches possible-cause strings
func (e *Error) WithCauses(causes ...string) *Error {
	e.PossibleCauses = append(e.PossibleCauses, causes...)
	return e
}

// WithFixes attaches suggested-fix strings
func (e *Error) WithFixes(fixes ...string) *Error {
	e.SuggestedFixes = append(e.SuggestedFixes, fixes...)
	return e
}

// From extracts an *Error from err, or wraps it as INTERNAL_ERROR
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(CodeInternal, "%s", err.Error())
}

// CodeOf returns the code carried by err, or CodeInternal
func CodeOf(err error) Code {
	return From(err).Code
}

// Is reports whether err carries the given code
func Is(err error, code Code) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// HTTPStatus maps an error code to an HTTP status
func HTTPStatus(code Code) int {
	switch code {
	case CodeMissingAPIKey, CodeInvalidAPIKey, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeQueueAccessDenied:
		return http.StatusForbidden
	case CodeQueueNotFound, CodeJobNotFound, CodeSubscriptionNotFound,
		CodeScheduleNotFound, CodeApplicationNotFound:
		return http.StatusNotFound
	case CodeMissingData, CodeValidation, CodeJobTerminal:
		return http.StatusBadRequest
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Common constructors used across handlers.

// MissingAPIKey is returned when no x-api-key header is present
func MissingAPIKey() *Error {
	return New(CodeMissingAPIKey, "no API key provided").
		WithHints("all protected routes require an x-api-key header").
		WithCauses("the x-api-key header is missing from the request").
		WithFixes("set the x-api-key header to your application's API key")
}

// InvalidAPIKey is returned when the supplied key matches no application
func InvalidAPIKey() *Error {
	return New(CodeInvalidAPIKey, "API key is not recognized").
		WithCauses("the key was revoked", "the key contains a typo").
		WithFixes("verify the key with the master identity", "create a new application")
}

// QueueAccessDenied is returned when tenant policy rejects a queue name
func QueueAccessDenied(queue string) *Error {
	return New(CodeQueueAccessDenied, "application is not allowed to use queue %q", queue).
		WithCauses("the queue is not in the application's allowedQueues list").
		WithFixes("ask the master identity to widen settings.allowedQueues")
}

// JobNotFound is returned when a job id does not resolve
func JobNotFound(queue, jobID string) *Error {
	return New(CodeJobNotFound, "job %q not found in queue %q", jobID, queue).
		WithCauses("the job id is wrong", "the job was trimmed by retention").
		WithFixes("check the job id returned at submission time")
}
