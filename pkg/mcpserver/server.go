// Package mcpserver exposes the reasoning loop's side of the approval gate
// as MCP tools. The loop can propose code, report steps, finish a task and
// read back what happened. It cannot approve: approval is only reachable
// through the human-facing HTTP routes.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/codegate/pkg/api"
)

// Service is the subset of the engine the tools use.
type Service interface {
	ActiveSession(ctx context.Context) (*api.Session, error)
	Session(ctx context.Context, id string) (*api.Session, error)
	ProposeCode(ctx context.Context, id, code, rationale string) (*api.Proposal, error)
	EmitStep(ctx context.Context, id string, step api.AgentStep) error
	FinalAnswer(ctx context.Context, id, text string) error
	Observation(ctx context.Context, id string) (string, error)
}

const (
	maxWait      = 120 * time.Second
	pollInterval = 200 * time.Millisecond
)

// ProposeInput is the argument of propose_code.
type ProposeInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session to propose in; defaults to the active session"`
	Code      string `json:"code" jsonschema:"the Python code to run once a human approves it"`
	Rationale string `json:"rationale,omitempty" jsonschema:"short explanation shown to the human, also used as the chart title hint"`
}

// StepInput is the argument of emit_step.
type StepInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session the step belongs to; defaults to the active session"`
	Kind      string `json:"kind" jsonschema:"one of thought, action, observation, final_answer"`
	Text      string `json:"text" jsonschema:"the step text"`
}

// CompletedInput is the argument of task_completed.
type CompletedInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session to complete; defaults to the active session"`
	Answer    string `json:"answer" jsonschema:"the final answer shown to the human"`
}

// StatusInput is the argument of session_status.
type StatusInput struct {
	SessionID   string `json:"session_id,omitempty" jsonschema:"session to inspect; defaults to the active session"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"wait up to this many seconds (max 120) while the proposal is pending or running"`
}

// Status is the structured result of every tool.
type Status struct {
	SessionID   string           `json:"session_id"`
	State       api.SessionState `json:"state"`
	Pending     bool             `json:"pending_proposal"`
	Observation string           `json:"observation,omitempty"`
}

type tools struct {
	svc Service
}

// New creates an MCP server with the codegate tools registered.
func New(svc Service, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "codegate", Version: version}, nil)
	t := &tools{svc: svc}

	mcp.AddTool(server, &mcp.Tool{
		Name: "propose_code",
		Description: "Propose Python code for execution. The code is not run until a human approves it; " +
			"use session_status to wait for the result. A new proposal replaces a pending one.",
	}, t.proposeCode)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "emit_step",
		Description: "Record a reasoning step (thought, action, observation or final_answer) for the current task.",
	}, t.emitStep)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "task_completed",
		Description: "Finish the current task with a final answer. No code is executed.",
	}, t.taskCompleted)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_status",
		Description: "Report the session state and, once code has run, the observation text of the last execution.",
	}, t.sessionStatus)

	return server
}

// Handler serves server over the streamable HTTP transport.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

func (t *tools) proposeCode(ctx context.Context, _ *mcp.CallToolRequest, in ProposeInput) (*mcp.CallToolResult, Status, error) {
	id, err := t.resolve(ctx, in.SessionID)
	if err != nil {
		return nil, Status{}, err
	}
	if _, err := t.svc.ProposeCode(ctx, id, in.Code, in.Rationale); err != nil {
		return nil, Status{}, err
	}
	slog.Debug("proposal received over mcp", "session_id", id)
	return t.reply(ctx, id, "Code proposed. It is awaiting human approval and has not been executed.")
}

func (t *tools) emitStep(ctx context.Context, _ *mcp.CallToolRequest, in StepInput) (*mcp.CallToolResult, Status, error) {
	id, err := t.resolve(ctx, in.SessionID)
	if err != nil {
		return nil, Status{}, err
	}
	if err := t.svc.EmitStep(ctx, id, api.AgentStep{Kind: api.StepKind(in.Kind), Text: in.Text}); err != nil {
		return nil, Status{}, err
	}
	return t.reply(ctx, id, "Step recorded.")
}

func (t *tools) taskCompleted(ctx context.Context, _ *mcp.CallToolRequest, in CompletedInput) (*mcp.CallToolResult, Status, error) {
	id, err := t.resolve(ctx, in.SessionID)
	if err != nil {
		return nil, Status{}, err
	}
	if err := t.svc.FinalAnswer(ctx, id, in.Answer); err != nil {
		return nil, Status{}, err
	}
	return t.reply(ctx, id, "Task completed.")
}

func (t *tools) sessionStatus(ctx context.Context, _ *mcp.CallToolRequest, in StatusInput) (*mcp.CallToolResult, Status, error) {
	id, err := t.resolve(ctx, in.SessionID)
	if err != nil {
		return nil, Status{}, err
	}
	if in.WaitSeconds > 0 {
		wait := min(time.Duration(in.WaitSeconds)*time.Second, maxWait)
		if err := t.waitSettled(ctx, id, wait); err != nil {
			return nil, Status{}, err
		}
	}
	return t.reply(ctx, id, "")
}

// waitSettled polls until the session is neither awaiting approval nor
// executing, or until wait elapses.
func (t *tools) waitSettled(ctx context.Context, id string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		sess, err := t.svc.Session(ctx, id)
		if err != nil {
			return err
		}
		if sess.State != api.StateAwaitingApproval && sess.State != api.StateExecuting {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *tools) resolve(ctx context.Context, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	sess, err := t.svc.ActiveSession(ctx)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (t *tools) reply(ctx context.Context, id, message string) (*mcp.CallToolResult, Status, error) {
	sess, err := t.svc.Session(ctx, id)
	if err != nil {
		return nil, Status{}, err
	}
	st := Status{
		SessionID: sess.ID,
		State:     sess.State,
		Pending:   sess.PendingProposal != nil,
	}
	// Only a status request carries the observation.
	if message == "" && sess.State == api.StateCompleted && sess.LastOutcome != nil {
		if obs, err := t.svc.Observation(ctx, id); err == nil {
			st.Observation = obs
		}
	}

	text := message
	if text == "" {
		text = fmt.Sprintf("Session %s is %s.", st.SessionID, st.State)
		if st.Observation != "" {
			text += "\n" + st.Observation
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, st, nil
}
