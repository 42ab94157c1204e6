package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"
)

// Error codes shared by the pipeline, the inference gateway and the HTTP layer
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeDuplicate          = "DUPLICATE_MESSAGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeSpam               = "SPAM_DETECTED"
	CodeInferenceTransient = "INFERENCE_TRANSIENT"
	CodeInferenceFatal     = "INFERENCE_FATAL"
	CodeSafetyBlocked      = "INFERENCE_SAFETY_BLOCKED"
	CodeMissingVariable    = "MISSING_TEMPLATE_VARIABLE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int           `json:"-"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    any           `json:"details,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Stack      string        `json:"-"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *AppError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the failure is transient and worth retrying
func (e *AppError) Retryable() bool {
	return e.Code == CodeInferenceTransient
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithCause attaches the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewValidationError reports a message that failed length or shape checks
func NewValidationError(message string) *AppError {
	return NewError(http.StatusUnprocessableEntity, CodeValidation, message)
}

// NewDuplicateError reports a message id that was already handled
func NewDuplicateError(messageID string) *AppError {
	return NewError(http.StatusConflict, CodeDuplicate, fmt.Sprintf("message %s was already processed", messageID))
}

// NewRateLimitedError reports a throttled sender together with the wait time
func NewRateLimitedError(retryAfter time.Duration) *AppError {
	e := NewError(http.StatusTooManyRequests, CodeRateLimited,
		fmt.Sprintf("too many messages, retry in %d seconds", int(retryAfter.Seconds())))
	e.RetryAfter = retryAfter
	return e
}

// NewSpamError reports a message rejected by the spam filter
func NewSpamError(score float64) *AppError {
	return NewError(http.StatusUnprocessableEntity, CodeSpam, fmt.Sprintf("message looks like spam (score %.2f)", score))
}

// NewTransientInferenceError wraps a retryable text-generation failure
func NewTransientInferenceError(message string, cause error) *AppError {
	return NewError(http.StatusServiceUnavailable, CodeInferenceTransient, message).WithCause(cause)
}

// NewFatalInferenceError wraps a text-generation failure that must not be retried
func NewFatalInferenceError(message string, cause error) *AppError {
	return NewError(http.StatusBadGateway, CodeInferenceFatal, message).WithCause(cause)
}

// NewSafetyBlockedError reports generated content withheld by the provider's safety filter
func NewSafetyBlockedError(reason string) *AppError {
	return NewError(http.StatusBadGateway, CodeSafetyBlocked, "generation blocked by safety filter").WithDetails(reason)
}

// NewMissingVariableError reports a template placeholder without a value
func NewMissingVariableError(template, variable string) *AppError {
	return NewError(http.StatusUnprocessableEntity, CodeMissingVariable,
		fmt.Sprintf("template %q references unavailable variable %q", template, variable)).
		WithDetails(map[string]string{"template": template, "variable": variable})
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeBadRequest, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(message string) *AppError {
	return NewError(http.StatusNotFound, CodeNotFound, message)
}

// NewUnauthorizedError creates a 401 error for missing or invalid credentials
func NewUnauthorizedError(message string) *AppError {
	return NewError(http.StatusUnauthorized, CodeUnauthorized, message)
}

// NewForbiddenError creates a 403 error
func NewForbiddenError(message string) *AppError {
	return NewError(http.StatusForbidden, CodeForbidden, message)
}

// NewUnavailableError creates a 503 error for refused work such as a full queue
func NewUnavailableError(message string) *AppError {
	return NewError(http.StatusServiceUnavailable, CodeUnavailable, message)
}

// NewInternalError creates a 500 error and records where it happened
func NewInternalError(message string, cause error) *AppError {
	e := NewError(http.StatusInternalServerError, CodeInternal, message).WithCause(cause)
	e.Stack = string(debug.Stack())
	return e
}

// As returns the AppError in err's chain, if any
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode checks whether err carries the given error code
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// IsRetryable reports whether err is marked as a transient failure
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return stderrors.As(err, &r) && r.Retryable()
}

// FromError converts a standard error to an AppError
// If the error already carries an AppError it is returned as-is
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		return appErr
	}

	return NewInternalError("an unexpected error occurred", err)
}
