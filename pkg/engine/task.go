package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/debug"
	"github.com/rhuss/codegate/pkg/harness"
	"github.com/rhuss/codegate/pkg/observability"
	"github.com/rhuss/codegate/pkg/session"
)

// SubmitPrompt starts a new task with the user's text. The step log is
// cleared, the first prompt names the session and the processing clock
// starts.
func (e *Engine) SubmitPrompt(_ context.Context, id, text string) error {
	if apiErr := api.ValidatePrompt(text, e.cfg.Validation); apiErr != nil {
		return apiErr
	}
	now := time.Now()
	_, err := e.gate.StartTask(id, func(sess *api.Session) {
		session.NameFromPrompt(sess, text)
		sess.Messages = append(sess.Messages, api.NewMessage(api.RoleUser, api.MessageKindText, text))
		sess.Feedback = api.FeedbackNone
		sess.TaskStartedAt = &now
	})
	if err != nil {
		return notFound(err)
	}
	e.steps.For(id).Reset()
	debug.Log("gate", "task started", "session_id", id)
	return nil
}

// ProposeCode cleans and checks code from the reasoning loop and stores it
// as the session's pending proposal, replacing any earlier one. Code that
// is empty after cleaning or does not compile is rejected and never
// stored.
func (e *Engine) ProposeCode(ctx context.Context, id, code, rationale string) (*api.Proposal, error) {
	before, err := e.store.Get(id)
	if err != nil {
		return nil, notFound(err)
	}
	if apiErr := api.ValidateCodeSize(code, e.cfg.Validation); apiErr != nil {
		observability.ProposalsTotal.WithLabelValues("rejected").Inc()
		return nil, apiErr
	}

	cleaned, err := harness.Prepare(ctx, e.checker, code)
	if err != nil {
		if api.IsErrorType(err, api.ErrorTypeRejectedProposal) {
			observability.ProposalsTotal.WithLabelValues("rejected").Inc()
			debug.Log("gate", "proposal rejected", "session_id", id, "error", err)
		}
		return nil, err
	}

	proposal, err := e.gate.Propose(id, cleaned, rationale, func(sess *api.Session) {
		sess.Messages = append(sess.Messages, api.NewMessage(api.RoleAssistant, api.MessageKindCode, cleaned))
	})
	if err != nil {
		return nil, notFound(err)
	}
	result := "accepted"
	if before.State == api.StateAwaitingApproval {
		result = "replaced"
	}
	observability.ProposalsTotal.WithLabelValues(result).Inc()
	slog.Info("code proposed", "session_id", id, "bytes", len(cleaned))
	return proposal, nil
}

// EmitStep appends a step to the session's current task. It never changes
// the session state.
func (e *Engine) EmitStep(_ context.Context, id string, step api.AgentStep) error {
	if apiErr := api.ValidateStep(step, e.cfg.Validation); apiErr != nil {
		return apiErr
	}
	if _, err := e.store.Get(id); err != nil {
		return notFound(err)
	}
	ev := e.steps.For(id).Append(step)
	debug.Log("steps", "step appended", "session_id", id, "seq", ev.Seq, "kind", step.Kind)
	return nil
}

// FinalAnswer completes the task with the loop's answer. No code runs.
func (e *Engine) FinalAnswer(_ context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return api.NewInvalidRequestError("text", "final answer must not be empty")
	}
	sess, err := e.gate.Finish(id, func(sess *api.Session) {
		sess.Messages = append(sess.Messages, api.NewMessage(api.RoleAssistant, api.MessageKindFinalAnswer, text))
		if sess.TaskStartedAt != nil {
			sess.ProcessingSeconds = time.Since(*sess.TaskStartedAt).Seconds()
			sess.TaskStartedAt = nil
		}
	})
	if err != nil {
		return notFound(err)
	}
	e.steps.For(id).Append(api.AgentStep{Kind: api.StepFinalAnswer, Text: text})
	slog.Info("task completed", "session_id", id, "processing_seconds", sess.ProcessingSeconds)
	return nil
}

// SubmitFeedback records the human's vote on the completed task.
func (e *Engine) SubmitFeedback(_ context.Context, id string, vote api.FeedbackVote) error {
	if _, err := e.store.RecordFeedback(id, vote); err != nil {
		return notFound(err)
	}
	observability.FeedbackTotal.WithLabelValues(string(vote)).Inc()
	return nil
}
