package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Conversation graph errors
	ErrorTypeUnknownChat         ErrorType = "UNKNOWN_CHAT"
	ErrorTypeUnknownMessage      ErrorType = "UNKNOWN_MESSAGE"
	ErrorTypeUnknownBranch       ErrorType = "UNKNOWN_BRANCH"
	ErrorTypeUnknownProject      ErrorType = "UNKNOWN_PROJECT"
	ErrorTypeInvalidReference    ErrorType = "INVALID_REFERENCE"
	ErrorTypeNotEditable         ErrorType = "NOT_EDITABLE"
	ErrorTypeGraphCorrupt        ErrorType = "GRAPH_CORRUPT"
	ErrorTypeConcurrencyConflict ErrorType = "CONCURRENCY_CONFLICT"

	// Request errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeRateLimit    ErrorType = "RATE_LIMIT"

	// Application errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	// Infrastructure errors
	ErrorTypeDatabase ErrorType = "DATABASE"
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetail adds a single detail entry
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func newAppError(t ErrorType, status int, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		HTTPStatus: status,
		StackTrace: captureStackTrace(),
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// Constructor functions for the conversation graph taxonomy

// NewUnknownChatError reports a chat that does not exist or is not owned by the caller
func NewUnknownChatError(chatID string) *AppError {
	return newAppError(ErrorTypeUnknownChat, http.StatusNotFound,
		fmt.Sprintf("chat %s not found", chatID)).WithDetail("chat_id", chatID)
}

// NewUnknownProjectError reports a project that is absent or owned by someone else
func NewUnknownProjectError(projectID string) *AppError {
	return newAppError(ErrorTypeUnknownProject, http.StatusNotFound,
		fmt.Sprintf("project %s not found", projectID)).WithDetail("project_id", projectID)
}

// NewUnknownMessageError reports a message id that is absent from the chat's graph
func NewUnknownMessageError(messageID string) *AppError {
	return newAppError(ErrorTypeUnknownMessage, http.StatusNotFound,
		fmt.Sprintf("message %s not found", messageID)).WithDetail("message_id", messageID)
}

// NewUnknownBranchError reports a branch id that does not belong to the chat
func NewUnknownBranchError(branchID string) *AppError {
	return newAppError(ErrorTypeUnknownBranch, http.StatusNotFound,
		fmt.Sprintf("branch %s not found", branchID)).WithDetail("branch_id", branchID)
}

// NewInvalidReferenceError reports a duplicate insert or malformed parent
func NewInvalidReferenceError(message string) *AppError {
	return newAppError(ErrorTypeInvalidReference, http.StatusBadRequest, message)
}

// NewNotEditableError reports an edit attempt on a message that cannot be forked
func NewNotEditableError(messageID, role string) *AppError {
	return newAppError(ErrorTypeNotEditable, http.StatusUnprocessableEntity,
		fmt.Sprintf("message %s with role %s is not editable", messageID, role)).
		WithDetail("message_id", messageID).
		WithDetail("role", role)
}

// NewGraphCorruptError reports a structural invariant violation in persisted data
func NewGraphCorruptError(message string) *AppError {
	return newAppError(ErrorTypeGraphCorrupt, http.StatusInternalServerError, message)
}

// NewConcurrencyConflictError reports lock contention or a stale write
func NewConcurrencyConflictError(message string) *AppError {
	return newAppError(ErrorTypeConcurrencyConflict, http.StatusConflict, message)
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newAppError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return newAppError(ErrorTypeUnauthorized, http.StatusUnauthorized, message)
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return newAppError(ErrorTypeRateLimit, http.StatusTooManyRequests,
		fmt.Sprintf("rate limit exceeded: %d requests per %s", limit, window))
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newAppError(ErrorTypeInternal, http.StatusInternalServerError, message)
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return newAppError(ErrorTypeUnavailable, http.StatusServiceUnavailable,
		fmt.Sprintf("service '%s' is unavailable", service))
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return newAppError(ErrorTypeDatabase, http.StatusInternalServerError,
		fmt.Sprintf("database operation '%s' failed", operation)).WithCause(err)
}

// NewExternalError creates an external service error
func NewExternalError(service string, err error) *AppError {
	return newAppError(ErrorTypeExternal, http.StatusBadGateway,
		fmt.Sprintf("external service '%s' error", service)).WithCause(err)
}

// Helper functions

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsUnknownChat checks if an error is an unknown chat error
func IsUnknownChat(err error) bool {
	return IsType(err, ErrorTypeUnknownChat)
}

// IsUnknownProject checks if an error is an unknown project error
func IsUnknownProject(err error) bool {
	return IsType(err, ErrorTypeUnknownProject)
}

// IsUnknownMessage checks if an error is an unknown message error
func IsUnknownMessage(err error) bool {
	return IsType(err, ErrorTypeUnknownMessage)
}

// IsInvalidReference checks if an error is an invalid reference error
func IsInvalidReference(err error) bool {
	return IsType(err, ErrorTypeInvalidReference)
}

// IsNotEditable checks if an error is a not editable error
func IsNotEditable(err error) bool {
	return IsType(err, ErrorTypeNotEditable)
}

// IsGraphCorrupt checks if an error signals corrupted graph data
func IsGraphCorrupt(err error) bool {
	return IsType(err, ErrorTypeGraphCorrupt)
}

// IsConcurrencyConflict checks if an error is a concurrency conflict
func IsConcurrencyConflict(err error) bool {
	return IsType(err, ErrorTypeConcurrencyConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsNotFound reports any of the not-found kinds
func IsNotFound(err error) bool {
	return IsUnknownChat(err) || IsUnknownMessage(err) || IsType(err, ErrorTypeUnknownBranch)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// AppErrors keep their kind so transports can still map them
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
