package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Phantom Pen error code.
type ErrorCode string

const (
	ErrNotAuthenticated      ErrorCode = "NOT_AUTHENTICATED"      // 401
	ErrUnauthorized          ErrorCode = "UNAUTHORIZED"           // 403
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"        // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"              // 404
	ErrProfileNotFound       ErrorCode = "PROFILE_NOT_FOUND"      // 404
	ErrPayloadTooLarge       ErrorCode = "PAYLOAD_TOO_LARGE"      // 413
	ErrSourceNotFound        ErrorCode = "SOURCE_NOT_FOUND"       // 422
	ErrUpstreamTranscription ErrorCode = "UPSTREAM_TRANSCRIPTION" // 502
	ErrUpstreamGeneration    ErrorCode = "UPSTREAM_GENERATION"    // 502
	ErrSchedulingFailure     ErrorCode = "SCHEDULING_FAILURE"     // 503
	ErrInternal              ErrorCode = "INTERNAL"               // 500
)

// PenError represents a structured error with code, status, and details.
type PenError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *PenError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *PenError) Unwrap() error {
	return e.cause
}

// NewNotAuthenticated creates a 401 error for calls without an identity.
func NewNotAuthenticated() *PenError {
	return &PenError{
		Code:    ErrNotAuthenticated,
		Status:  401,
		Message: "not authenticated",
	}
}

// NewUnauthorized creates a 403 error for a caller acting on another user's data.
func NewUnauthorized(resource string) *PenError {
	return &PenError{
		Code:    ErrUnauthorized,
		Status:  403,
		Message: fmt.Sprintf("not authorized to access %s", resource),
		Details: map[string]any{"resource": resource},
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *PenError {
	return &PenError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error. kind names the missing entity ("whisper", "user", ...).
func NewNotFound(kind, id string) *PenError {
	return &PenError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewProfileNotFound creates a 404 error when a whisper's owner record is missing.
func NewProfileNotFound(userID string) *PenError {
	return &PenError{
		Code:    ErrProfileNotFound,
		Status:  404,
		Message: fmt.Sprintf("user profile not found: %s", userID),
		Details: map[string]any{"user_id": userID},
	}
}

// NewPayloadTooLarge creates a 413 error for uploads over the configured limit.
func NewPayloadTooLarge(max int64) *PenError {
	return &PenError{
		Code:    ErrPayloadTooLarge,
		Status:  413,
		Message: fmt.Sprintf("payload exceeds maximum size of %d bytes", max),
		Details: map[string]any{"max_bytes": max},
	}
}

// NewSourceNotFound creates a 422 error when synthesis has no usable transcript.
func NewSourceNotFound(whisperID, reason string) *PenError {
	return &PenError{
		Code:    ErrSourceNotFound,
		Status:  422,
		Message: fmt.Sprintf("no transcript to synthesize for whisper %s: %s", whisperID, reason),
		Details: map[string]any{"whisper_id": whisperID},
	}
}

// NewUpstreamTranscription creates a 502 error for speech-to-text failures.
func NewUpstreamTranscription(err error) *PenError {
	return &PenError{
		Code:    ErrUpstreamTranscription,
		Status:  502,
		Message: "failed to transcribe audio: " + causeMessage(err),
		cause:   err,
	}
}

// NewUpstreamGeneration creates a 502 error for memoir generation failures,
// including malformed model output.
func NewUpstreamGeneration(err error) *PenError {
	return &PenError{
		Code:    ErrUpstreamGeneration,
		Status:  502,
		Message: "failed to generate memoir: " + causeMessage(err),
		cause:   err,
	}
}

// NewSchedulingFailure creates a 503 error when a delayed job cannot be enqueued.
func NewSchedulingFailure(err error) *PenError {
	return &PenError{
		Code:    ErrSchedulingFailure,
		Status:  503,
		Message: "failed to schedule memoir generation: " + causeMessage(err),
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *PenError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &PenError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a PenError with the given code.
func Is(err error, code ErrorCode) bool {
	var pErr *PenError
	if stderrors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// As returns the PenError in err's chain, if any.
func As(err error) (*PenError, bool) {
	var pErr *PenError
	ok := stderrors.As(err, &pErr)
	return pErr, ok
}

func causeMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
