package api

import (
	"fmt"
	"strings"
)

// ValidationConfig holds configurable limits for inbound payloads.
type ValidationConfig struct {
	MaxCodeSize   int
	MaxStepSize   int
	MaxPromptSize int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxCodeSize:   1024 * 1024, // 1MB
		MaxStepSize:   256 * 1024,
		MaxPromptSize: 256 * 1024,
	}
}

// ValidateStep checks an AgentStep submitted by the reasoning loop.
func ValidateStep(step AgentStep, cfg ValidationConfig) *APIError {
	switch step.Kind {
	case StepThought, StepAction, StepObservation, StepFinalAnswer:
	default:
		return NewInvalidRequestError("kind",
			fmt.Sprintf("unknown step kind %q", step.Kind))
	}
	if cfg.MaxStepSize > 0 && len(step.Text) > cfg.MaxStepSize {
		return NewInvalidRequestError("text",
			fmt.Sprintf("step text exceeds maximum of %d bytes", cfg.MaxStepSize))
	}
	return nil
}

// ValidateCodeSize rejects proposals above the configured size. Content
// checks happen in the harness.
func ValidateCodeSize(code string, cfg ValidationConfig) *APIError {
	if cfg.MaxCodeSize > 0 && len(code) > cfg.MaxCodeSize {
		return NewRejectedProposalError(
			fmt.Sprintf("code exceeds maximum of %d bytes", cfg.MaxCodeSize))
	}
	return nil
}

// ValidatePrompt checks a user prompt.
func ValidatePrompt(text string, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(text) == "" {
		return NewInvalidRequestError("text", "prompt must not be empty")
	}
	if cfg.MaxPromptSize > 0 && len(text) > cfg.MaxPromptSize {
		return NewInvalidRequestError("text",
			fmt.Sprintf("prompt exceeds maximum of %d bytes", cfg.MaxPromptSize))
	}
	return nil
}

// ParseFeedbackVote parses a vote submitted by the human. Only "up" and
// "down" are accepted; "none" is the absence of a vote.
func ParseFeedbackVote(s string) (FeedbackVote, *APIError) {
	switch FeedbackVote(strings.ToLower(strings.TrimSpace(s))) {
	case FeedbackUp:
		return FeedbackUp, nil
	case FeedbackDown:
		return FeedbackDown, nil
	}
	return FeedbackNone, NewInvalidRequestError("vote", "vote must be 'up' or 'down'")
}

// ValidateLLMConfig checks a session's model configuration.
func ValidateLLMConfig(cfg LLMConfig) *APIError {
	if cfg.Model == "" {
		return NewInvalidRequestError("model", "model is required")
	}
	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		return NewInvalidRequestError("temperature", "temperature must be between 0.0 and 2.0")
	}
	return nil
}
