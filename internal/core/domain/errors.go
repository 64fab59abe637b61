// Package domain provides the run, trace, event and error types shared by the
// pipeline executor, the stream emitter and the HTTP frontdoor.
package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeStageFailure indicates a pipeline stage failed.
	ErrorTypeStageFailure ErrorType = "stage_failure"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeMissingMessage   ErrorCode = "missing_message"
	ErrorCodeInvalidJSON      ErrorCode = "invalid_json"
	ErrorCodePipelineNotFound ErrorCode = "pipeline_not_found"
	ErrorCodeRunNotFound      ErrorCode = "run_not_found"
)

// APIError is the error shape returned to clients outside of the streaming
// protocol, e.g. when a request is rejected before a run starts.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the request field that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

var (
	// ErrSuspended matches any SuspendedError via errors.Is.
	ErrSuspended = errors.New("capability suspended")

	// ErrUnknownFault is reported when a run is broken by something other
	// than a stage returning an error, such as a panic.
	ErrUnknownFault = errors.New("unexpected fault while running pipeline")

	// ErrRunFinished is returned when mutating a run that already reached a
	// terminal state.
	ErrRunFinished = errors.New("run already finished")
)

// GenericFailureMessage is surfaced when a failure carries no usable text.
const GenericFailureMessage = "the pipeline failed without an error message"

// StageError reports that a stage's capability call failed.
type StageError struct {
	StageID string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s failed", e.StageID)
	}
	return fmt.Sprintf("stage %s failed: %v", e.StageID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SuspendedError reports that a capability asked for more input instead of
// completing. Pipelines are non-interactive, so it fails the run.
type SuspendedError struct {
	StageID string
	Reason  string
}

func (e *SuspendedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "capability requested further input"
	}
	return fmt.Sprintf("stage %s suspended: %s", e.StageID, reason)
}

// Is lets errors.Is(err, ErrSuspended) match.
func (e *SuspendedError) Is(target error) bool {
	return target == ErrSuspended
}

// FailureMessage returns the human-readable message for a failed run,
// falling back to GenericFailureMessage. Unknown faults never expose their
// cause.
func FailureMessage(err error) string {
	if err == nil {
		return GenericFailureMessage
	}
	if errors.Is(err, ErrUnknownFault) {
		return ErrUnknownFault.Error()
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return GenericFailureMessage
	}
	return msg
}
