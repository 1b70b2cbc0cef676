package api

import (
	"errors"
	"fmt"
)

// ErrorType classifies an APIError. Each type maps to one HTTP status.
type ErrorType string

const (
	ErrorTypeInvalidRequest    ErrorType = "invalid_request"
	ErrorTypeRejectedProposal  ErrorType = "rejected_proposal"
	ErrorTypeForbidden         ErrorType = "forbidden"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeInvalidTransition ErrorType = "invalid_transition"
	ErrorTypeHarnessFault      ErrorType = "harness_fault"
	ErrorTypeServerError       ErrorType = "server_error"
)

// APIError is the error shape every surface reports to callers. Param names
// the offending request field; Code carries a machine-readable detail such
// as the session state that refused a transition.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`

	cause error // logged, never serialized
}

func (e *APIError) Error() string {
	s := string(e.Type) + ": " + e.Message
	if e.Param != "" {
		s += " (param: " + e.Param + ")"
	}
	return s
}

func (e *APIError) Unwrap() error { return e.cause }

// ErrorResponse is the JSON body of every error reply: {"error": {...}}.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Param: param, Message: message}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: message}
}

func NewServerError(message string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Message: message}
}

// NewForbiddenError reports a caller that lacks the scope an operation needs.
func NewForbiddenError(message string) *APIError {
	return &APIError{Type: ErrorTypeForbidden, Message: message}
}

// NewRejectedProposalError reports program text that never reaches the
// harness, such as an empty block or one that fails the syntax check.
func NewRejectedProposalError(message string) *APIError {
	return &APIError{Type: ErrorTypeRejectedProposal, Param: "code", Message: message}
}

// NewInvalidTransitionError reports an action the session's current state
// does not allow. Code is set to the state.
func NewInvalidTransitionError(from SessionState, action string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidTransition,
		Code:    string(from),
		Message: fmt.Sprintf("cannot %s while session is %s", action, from),
	}
}

// NewHarnessFaultError reports that the execution environment itself broke.
// Callers see a generic message; cause stays reachable through errors.Is.
func NewHarnessFaultError(cause error) *APIError {
	return &APIError{
		Type:    ErrorTypeHarnessFault,
		Message: "the execution environment failed; please try again",
		cause:   cause,
	}
}

// IsErrorType reports whether err wraps an *APIError of type t.
func IsErrorType(err error, t ErrorType) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == t
}
