package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "error with type and message",
			err:      &APIError{Type: ErrorTypeInvalidRequest, Message: "bad request"},
			expected: "invalid_request: bad request",
		},
		{
			name:     "error with type, code, and message",
			err:      &APIError{Type: ErrorTypeNotFound, Code: ErrorCodePipelineNotFound, Message: "no such pipeline"},
			expected: "not_found (pipeline_not_found): no such pipeline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{
			name:     "invalid request",
			err:      &APIError{Type: ErrorTypeInvalidRequest},
			expected: http.StatusBadRequest,
		},
		{
			name:     "not found error",
			err:      &APIError{Type: ErrorTypeNotFound},
			expected: http.StatusNotFound,
		},
		{
			name:     "server error",
			err:      &APIError{Type: ErrorTypeServer},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "stage failure",
			err:      &APIError{Type: ErrorTypeStageFailure},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "explicit status code",
			err:      &APIError{Type: ErrorTypeInvalidRequest, StatusCode: http.StatusUnsupportedMediaType},
			expected: http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Builders(t *testing.T) {
	err := ErrInvalidRequest("message is required").
		WithCode(ErrorCodeMissingMessage).
		WithParam("message")

	if err.Type != ErrorTypeInvalidRequest {
		t.Errorf("Type = %v, want %v", err.Type, ErrorTypeInvalidRequest)
	}
	if err.Code != ErrorCodeMissingMessage {
		t.Errorf("Code = %v, want %v", err.Code, ErrorCodeMissingMessage)
	}
	if err.Param != "message" {
		t.Errorf("Param = %q, want %q", err.Param, "message")
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("upstream timeout")
	err := fmt.Errorf("run: %w", &StageError{StageID: "reverse", Err: cause})

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError in chain")
	}
	if stageErr.StageID != "reverse" {
		t.Errorf("StageID = %q, want reverse", stageErr.StageID)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if got := stageErr.Error(); got != "stage reverse failed: upstream timeout" {
		t.Errorf("Error() = %q", got)
	}
}

func TestSuspendedError(t *testing.T) {
	err := &SuspendedError{StageID: "ask"}
	if !errors.Is(err, ErrSuspended) {
		t.Error("expected SuspendedError to match ErrSuspended")
	}
	if got := err.Error(); got != "stage ask suspended: capability requested further input" {
		t.Errorf("Error() = %q", got)
	}
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil error", err: nil, want: GenericFailureMessage},
		{name: "blank message", err: errors.New("  "), want: GenericFailureMessage},
		{name: "real message", err: errors.New("boom"), want: "boom"},
		{name: "unknown fault hides cause", err: fmt.Errorf("%w: nil map write", ErrUnknownFault), want: ErrUnknownFault.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureMessage(tt.err); got != tt.want {
				t.Errorf("FailureMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
