package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/archive"
	"github.com/rhuss/codegate/pkg/harness"
	"github.com/rhuss/codegate/pkg/observability"
)

// FaultMessage is shown in the transcript when the harness itself fails.
const FaultMessage = "The execution environment failed. The session was reset; please try again."

const archiveTimeout = 10 * time.Second

// Approve runs the session's pending proposal. Success, runtime errors and
// timeouts are all outcomes: they complete the session and are returned
// without error. Only a harness fault is an error; it resets the session
// to idle and records nothing.
//
// The execution is not bound to ctx. A caller that goes away does not kill
// the child; Cancel does.
func (e *Engine) Approve(ctx context.Context, id string) (*api.ExecutionOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "codegate.approve",
		trace.WithAttributes(attribute.String("codegate.session_id", id)))
	defer span.End()

	proposal, err := e.gate.Approve(id)
	if err != nil {
		span.SetStatus(codes.Error, "approve rejected")
		return nil, notFound(err)
	}
	observability.GateDecisionsTotal.WithLabelValues("approve").Inc()
	slog.Info("proposal approved", "session_id", id)

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	release := e.inflight.Register(id, cancel)
	defer func() {
		release()
		cancel(nil)
	}()

	outcome, metrics, err := e.execute(runCtx, id, proposal)
	if err != nil {
		return nil, e.fault(ctx, span, id, err)
	}
	if cause := context.Cause(runCtx); cause != nil {
		slog.Info("execution stopped early", "session_id", id, "cause", cause.Error())
	}

	observation := api.AgentStep{Kind: api.StepObservation, Text: outcome.Observation()}
	_, err = e.store.RecordOutcome(id, outcome, metrics, func(sess *api.Session) {
		msg := api.NewMessage(api.RoleAssistant, api.MessageKindOutcome, observation.Text)
		msg.Outcome = outcome
		sess.Messages = append(sess.Messages, msg)
	})
	if err != nil {
		// The session was deleted while the code ran.
		span.SetStatus(codes.Error, "recording outcome failed")
		return nil, notFound(err)
	}
	e.steps.For(id).Append(observation)

	span.SetAttributes(
		attribute.String("codegate.outcome", string(outcome.Kind)),
		attribute.Int("codegate.files", len(outcome.Files)),
	)
	slog.Info("execution completed",
		"session_id", id,
		"execution_id", metrics.ExecutionID,
		"outcome", outcome.Kind,
		"elapsed_seconds", metrics.ElapsedSeconds,
	)

	e.archiveRun(ctx, id, proposal, outcome, metrics)
	return outcome, nil
}

func (e *Engine) execute(ctx context.Context, id string, proposal *api.Proposal) (*api.ExecutionOutcome, *api.ExecutionMetrics, error) {
	ctx, span := e.tracer.Start(ctx, "codegate.execute",
		trace.WithAttributes(attribute.String("codegate.backend", e.cfg.Backend)))
	defer span.End()

	observability.ExecutionsInFlight.Inc()
	defer observability.ExecutionsInFlight.Dec()

	started := time.Now()
	outcome, err := e.harness.Execute(ctx, harness.Request{
		SessionID: id,
		Code:      proposal.Code,
		WorkDir:   e.workDir(id),
		TimeLimit: e.cfg.TimeLimit,
		TitleHint: proposal.Rationale,
	})
	finished := time.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "harness fault")
		return nil, nil, err
	}

	metrics := api.NewExecutionMetrics(uuid.NewString(), started, finished, outcome.Kind)
	observability.ExecutionsTotal.WithLabelValues(e.cfg.Backend, string(outcome.Kind)).Inc()
	observability.ExecutionDuration.WithLabelValues(e.cfg.Backend, string(outcome.Kind)).Observe(metrics.ElapsedSeconds)
	return outcome, metrics, nil
}

// fault resets the session after a harness failure and returns the error
// reported to the caller.
func (e *Engine) fault(ctx context.Context, span trace.Span, id string, cause error) error {
	observability.HarnessFaultsTotal.WithLabelValues(e.cfg.Backend).Inc()
	span.RecordError(cause)
	span.SetStatus(codes.Error, "harness fault")
	slog.ErrorContext(ctx, "harness fault", "session_id", id, "backend", e.cfg.Backend, "error", cause)

	if _, err := e.gate.Fault(id, func(sess *api.Session) {
		sess.Messages = append(sess.Messages, api.NewMessage(api.RoleSystem, api.MessageKindError, FaultMessage))
	}); err != nil {
		slog.Warn("resetting session after fault failed", "session_id", id, "error", err)
	}

	if api.IsErrorType(cause, api.ErrorTypeHarnessFault) || api.IsErrorType(cause, api.ErrorTypeRejectedProposal) {
		return cause
	}
	return api.NewHarnessFaultError(cause)
}

func (e *Engine) archiveRun(ctx context.Context, id string, proposal *api.Proposal, outcome *api.ExecutionOutcome, metrics *api.ExecutionMetrics) {
	if e.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	rec := &archive.Record{
		ExecutionID: metrics.ExecutionID,
		SessionID:   id,
		Backend:     e.cfg.Backend,
		Code:        proposal.Code,
		Rationale:   proposal.Rationale,
		Outcome:     outcome,
		Metrics:     metrics,
		Steps:       e.steps.For(id).Steps(),
		CreatedAt:   metrics.FinishedAt,
	}
	if err := e.archive.Save(ctx, rec); err != nil {
		slog.Warn("archiving execution failed", "session_id", id, "execution_id", metrics.ExecutionID, "error", err)
	}
}

// Cancel discards a pending proposal. While the session is executing it
// kills the running child instead; that run then completes as a timeout.
func (e *Engine) Cancel(_ context.Context, id string) error {
	sess, err := e.store.Get(id)
	if err != nil {
		return notFound(err)
	}
	if sess.State == api.StateExecuting && e.inflight.Cancel(id, errKilled) {
		observability.GateDecisionsTotal.WithLabelValues("kill").Inc()
		slog.Info("running execution cancelled", "session_id", id)
		return nil
	}

	if _, err := e.gate.Cancel(id); err != nil {
		return notFound(err)
	}
	e.steps.For(id).Append(api.AgentStep{Kind: api.StepObservation, Text: "User cancelled the execution of the code."})
	observability.GateDecisionsTotal.WithLabelValues("cancel").Inc()
	slog.Info("proposal cancelled", "session_id", id)
	return nil
}
