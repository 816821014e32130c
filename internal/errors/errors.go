// Package errors provides structured error types for remedy.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for remedy operations.
const (
	// Config errors
	CodeConfigMissing = "CONFIG_001" // Catalog or config source missing
	CodeConfigInvalid = "CONFIG_002" // Catalog or config malformed

	// Payload errors
	CodePayloadInvalid = "PAYLOAD_001" // Inbound ticket payload rejected

	// Flow errors
	CodeFlowNotFound          = "FLOW_001" // No catalog entry for classification
	CodeActionListUnavailable = "FLOW_002" // Flow directory unreadable or empty

	// Action errors
	CodeActionNotExecutable   = "ACTION_001" // Missing file or unsupported kind
	CodeActionExecutionFailed = "ACTION_002" // Non-zero exit or unusable output
	CodeActionLogicFailed     = "ACTION_003" // Exit 0 but the envelope reports failure

	// Ticket errors
	CodeTicketUpdateFailed = "TICKET_001" // Non-2xx from the ticketing system

	// Store errors
	CodePersistenceFailed = "STORE_001" // RunRecord could not be saved or loaded
	CodeRunNotFound       = "STORE_002" // No RunRecord for identifier

	// Run errors
	CodeRunInFlight = "RUN_001" // Another run holds the identifier
	CodeRunRetired  = "RUN_002" // Run already reached a terminal state
)

// RunError is the structured error type for remedy operations.
type RunError struct {
	Code    string         `json:"code"`              // Error code (e.g., "FLOW_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (ticket, action, status ...)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *RunError) WithDetail(key string, value any) *RunError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *RunError) WithCause(err error) *RunError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *RunError) MarshalJSON() ([]byte, error) {
	type alias RunError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new RunError.
func New(code, message string) *RunError {
	return &RunError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new RunError with formatted message.
func Newf(code, format string, args ...any) *RunError {
	return &RunError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a RunError.
func Wrap(code, message string, err error) *RunError {
	return &RunError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted RunError.
func Wrapf(code string, err error, format string, args ...any) *RunError {
	return &RunError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- Config Errors ---

// ConfigMissing creates an error for a missing configuration source.
func ConfigMissing(path string, err error) *RunError {
	return Wrapf(CodeConfigMissing, err, "configuration source not found: %s", path).
		WithDetail("path", path)
}

// ConfigInvalid creates an error for a malformed configuration source.
func ConfigInvalid(path, reason string) *RunError {
	return Newf(CodeConfigInvalid, "invalid configuration %s: %s", path, reason).
		WithDetail("path", path).
		WithDetail("reason", reason)
}

// --- Payload Errors ---

// PayloadInvalid creates an error for a rejected ticket payload.
func PayloadInvalid(reason string) *RunError {
	return Newf(CodePayloadInvalid, "invalid ticket payload: %s", reason).
		WithDetail("reason", reason)
}

// --- Flow Errors ---

// FlowNotFound creates an error for an unknown classification.
func FlowNotFound(classification string) *RunError {
	return Newf(CodeFlowNotFound, "no flow found for classification: %s", classification).
		WithDetail("classification", classification)
}

// ActionListUnavailable creates an error for a flow whose actions cannot be listed.
func ActionListUnavailable(flow string, err error) *RunError {
	return Wrapf(CodeActionListUnavailable, err, "cannot list actions for flow %s", flow).
		WithDetail("flow", flow)
}

// --- Action Errors ---

// ActionNotExecutable creates an error for an action that cannot be spawned.
func ActionNotExecutable(path, reason string) *RunError {
	return Newf(CodeActionNotExecutable, "action %s is not executable: %s", path, reason).
		WithDetail("path", path).
		WithDetail("reason", reason)
}

// --- Ticket Errors ---

// TicketUpdateFailed creates an error for a rejected lifecycle write.
func TicketUpdateFailed(operation string, status int, body string) *RunError {
	return Newf(CodeTicketUpdateFailed, "ticket %s failed with status %d", operation, status).
		WithDetail("operation", operation).
		WithDetail("status", status).
		WithDetail("body", body)
}

// TicketRequestFailed creates an error for a lifecycle write that never got a response.
func TicketRequestFailed(operation string, err error) *RunError {
	return Wrapf(CodeTicketUpdateFailed, err, "ticket %s request failed", operation).
		WithDetail("operation", operation)
}

// --- Store Errors ---

// PersistenceFailed creates an error for a RunRecord that could not be stored.
func PersistenceFailed(runID string, err error) *RunError {
	return Wrapf(CodePersistenceFailed, err, "persisting run %s", runID).
		WithDetail("run_id", runID)
}

// RunNotFound creates an error for a missing RunRecord.
func RunNotFound(runID string) *RunError {
	return Newf(CodeRunNotFound, "run not found: %s", runID).
		WithDetail("run_id", runID)
}

// --- Run Errors ---

// RunInFlight creates an error for a second run on an active identifier.
func RunInFlight(runID string) *RunError {
	return Newf(CodeRunInFlight, "run %s is already in progress", runID).
		WithDetail("run_id", runID)
}

// RunRetired creates an error for a run that already terminated.
func RunRetired(runID string) *RunError {
	return Newf(CodeRunRetired, "run %s already terminated", runID).
		WithDetail("run_id", runID)
}

// HasCode checks if an error is a RunError with the given code.
// It handles wrapped errors by unwrapping to find a RunError.
func HasCode(err error, code string) bool {
	var rerr *RunError
	if errors.As(err, &rerr) {
		return rerr.Code == code
	}
	return false
}

// Code returns the error code if err is a RunError, empty string otherwise.
// It handles wrapped errors by unwrapping to find a RunError.
func Code(err error) string {
	var rerr *RunError
	if errors.As(err, &rerr) {
		return rerr.Code
	}
	return ""
}
