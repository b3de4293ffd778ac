package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeremy-jemverse/flownodes/internal/runtime"
	"github.com/jeremy-jemverse/flownodes/internal/schema"
)

// ErrInvalidInput marks malformed request bodies and missing fields.
var ErrInvalidInput = errors.New("invalid input")

// ErrorCode identifies an API failure class in responses.
type ErrorCode string

const (
	CodeInvalidInput     ErrorCode = "invalid_input"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeNotFound         ErrorCode = "workflow_not_found"
	CodeAlreadyExists    ErrorCode = "workflow_exists"
	CodeFinished         ErrorCode = "workflow_finished"
	CodeUnknownSignal    ErrorCode = "unknown_signal"
	CodeUnknownQuery     ErrorCode = "unknown_query"
	CodeCancelled        ErrorCode = "cancelled"
	CodeTimeout          ErrorCode = "timeout"
	CodeInternalError    ErrorCode = "internal_error"
)

// HTTPError pairs a domain error with its response status.
type HTTPError struct {
	StatusCode int
	Code       ErrorCode
	Err        error
}

func (e *HTTPError) Error() string { return e.Err.Error() }

func (e *HTTPError) Unwrap() error { return e.Err }

// MapError maps a domain error to an HTTPError.
func MapError(err error) *HTTPError {
	if err == nil {
		return nil
	}

	var verr *schema.ValidationError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return &HTTPError{http.StatusBadRequest, CodeInvalidInput, err}
	case errors.As(err, &verr):
		return &HTTPError{http.StatusUnprocessableEntity, CodeValidationFailed, err}
	case errors.Is(err, runtime.ErrWorkflowNotFound):
		return &HTTPError{http.StatusNotFound, CodeNotFound, err}
	case errors.Is(err, runtime.ErrDuplicateWorkflowID):
		return &HTTPError{http.StatusConflict, CodeAlreadyExists, err}
	case errors.Is(err, runtime.ErrWorkflowFinished):
		return &HTTPError{http.StatusConflict, CodeFinished, err}
	case errors.Is(err, runtime.ErrUnknownSignal):
		return &HTTPError{http.StatusBadRequest, CodeUnknownSignal, err}
	case errors.Is(err, runtime.ErrUnknownQuery):
		return &HTTPError{http.StatusBadRequest, CodeUnknownQuery, err}
	case errors.Is(err, context.Canceled):
		// 499: nginx convention for "client closed request"
		return &HTTPError{499, CodeCancelled, err}
	case errors.Is(err, context.DeadlineExceeded):
		return &HTTPError{http.StatusGatewayTimeout, CodeTimeout, err}
	default:
		return &HTTPError{http.StatusInternalServerError, CodeInternalError, err}
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	httpErr := MapError(err)
	if httpErr == nil {
		return
	}
	writeJSON(w, httpErr.StatusCode, errorResponse{
		Code:    string(httpErr.Code),
		Message: httpErr.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
