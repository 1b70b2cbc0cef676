package api

import "fmt"

var sessionTransitions = map[SessionState][]SessionState{
	StateIdle:             {StateAwaitingApproval, StateCompleted},
	StateAwaitingApproval: {StateAwaitingApproval, StateExecuting, StateIdle},
	StateExecuting:        {StateCompleted, StateIdle},
	StateCompleted:        {StateIdle, StateAwaitingApproval, StateCompleted},
}

// ValidateSessionTransition checks whether a session state transition is valid.
// Executing can only be entered from AwaitingApproval, and Completed with an
// outcome can only be entered from Executing; the caller decides which
// entry into Completed it is performing.
func ValidateSessionTransition(from, to SessionState) *APIError {
	allowed, exists := sessionTransitions[from]
	if !exists {
		return &APIError{
			Type:    ErrorTypeInvalidTransition,
			Code:    string(from),
			Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
		}
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return &APIError{
		Type:    ErrorTypeInvalidTransition,
		Code:    string(from),
		Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
	}
}
