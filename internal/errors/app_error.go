// Package errors defines the structured error type returned by the management API
// and the sentinel conditions raised inside the pruning engine.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeInvalidPruneID          = "invalid_prune_id"
	CodeModelSelectionExhausted = "model_selection_exhausted"
	CodeSessionNotFound         = "session_not_found"
	CodeHostRPCFailed           = "host_rpc_failed"
	CodeInvalidRequest          = "invalid_request"
	CodeUpstreamUnavailable     = "upstream_unavailable"
)

var (
	// ErrNoModelAvailable is raised when every model candidate for analysis failed.
	ErrNoModelAvailable = errors.New("no model available for analysis")
	// ErrInvalidPruneID is raised when a prune request names an id the session never exposed.
	ErrInvalidPruneID = errors.New("invalid prune id")
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// WithDetail attaches a detail entry and returns the error for chaining.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// InvalidPruneID reports prune ids that do not map to a known, prunable tool call.
func InvalidPruneID(ids []int) *AppError {
	return New(http.StatusBadRequest, CodeInvalidPruneID, "prune request contains unknown or unprunable ids", ErrInvalidPruneID).
		WithDetail("ids", ids)
}

// SelectionExhausted wraps the last model failure of a selection cascade.
func SelectionExhausted(last error) *AppError {
	err := ErrNoModelAvailable
	if last != nil {
		err = fmt.Errorf("%w: %v", ErrNoModelAvailable, last)
	}
	return New(http.StatusServiceUnavailable, CodeModelSelectionExhausted, "model selection exhausted", err)
}

// HostRPC wraps a failed call to the host application.
func HostRPC(op string, err error) *AppError {
	return New(http.StatusBadGateway, CodeHostRPCFailed, "host "+op+" failed", err)
}

// UpstreamUnavailable wraps a failed forward to a model provider.
func UpstreamUnavailable(family string, err error) *AppError {
	return New(http.StatusBadGateway, CodeUpstreamUnavailable, "upstream unavailable", err).WithDetail("family", family)
}

// StatusCode returns the HTTP status carried by err, or 500.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatusCode != 0 {
		return appErr.HTTPStatusCode
	}
	return http.StatusInternalServerError
}
