// Package gate implements the per-session approval state machine:
// a proposal waits for an explicit human decision and only an approval
// moves it to execution.
//
// Every transition runs under the session's lock in the session store, so
// two callers can never both see a pending proposal and both approve it.
package gate

import (
	"time"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/debug"
	"github.com/rhuss/codegate/pkg/session"
)

// CancelledMessage is appended to the transcript when a proposal is
// cancelled.
const CancelledMessage = "Code execution CANCELED by user."

// Effect is an extra mutation applied in the same atomic update as a
// transition, for example appending a transcript message.
type Effect func(*api.Session)

// Gate mediates proposal, approval and cancellation.
type Gate struct {
	store *session.Store
}

// New creates a Gate over store.
func New(store *session.Store) *Gate {
	return &Gate{store: store}
}

func (g *Gate) transition(id string, to api.SessionState, action string, check func(*api.Session) error, effects []Effect) (*api.Session, error) {
	return g.store.Update(id, func(sess *api.Session) error {
		if err := api.ValidateSessionTransition(sess.State, to); err != nil {
			return api.NewInvalidTransitionError(sess.State, action)
		}
		if check != nil {
			if err := check(sess); err != nil {
				return err
			}
		}
		from := sess.State
		sess.State = to
		for _, fx := range effects {
			fx(sess)
		}
		debug.Log("gate", "transition", "session_id", id, "from", from, "to", to, "action", action)
		return nil
	})
}

// Propose stores code as the session's pending proposal. A proposal that
// is still pending is replaced, never merged.
func (g *Gate) Propose(id, code, rationale string, effects ...Effect) (*api.Proposal, error) {
	var proposal *api.Proposal
	_, err := g.transition(id, api.StateAwaitingApproval, "propose code", nil, append([]Effect{func(sess *api.Session) {
		if sess.PendingProposal != nil {
			debug.Log("gate", "replacing pending proposal", "session_id", id)
		}
		proposal = &api.Proposal{
			SessionID: id,
			Code:      code,
			Rationale: rationale,
			CreatedAt: time.Now(),
		}
		sess.PendingProposal = proposal
	}}, effects...))
	if err != nil {
		return nil, err
	}
	p := *proposal
	return &p, nil
}

// Approve moves the session to executing and hands back the proposal to
// run. The pending proposal is consumed.
func (g *Gate) Approve(id string, effects ...Effect) (*api.Proposal, error) {
	var proposal api.Proposal
	requirePending := func(sess *api.Session) error {
		if sess.State != api.StateAwaitingApproval || sess.PendingProposal == nil {
			return api.NewInvalidTransitionError(sess.State, "approve")
		}
		return nil
	}
	_, err := g.transition(id, api.StateExecuting, "approve", requirePending, append([]Effect{func(sess *api.Session) {
		proposal = *sess.PendingProposal
		sess.PendingProposal = nil
	}}, effects...))
	if err != nil {
		return nil, err
	}
	return &proposal, nil
}

// Cancel discards the pending proposal and returns the session to idle.
// The code is never executed.
func (g *Gate) Cancel(id string, effects ...Effect) (*api.Session, error) {
	requireAwaiting := func(sess *api.Session) error {
		if sess.State != api.StateAwaitingApproval {
			return api.NewInvalidTransitionError(sess.State, "cancel")
		}
		return nil
	}
	return g.transition(id, api.StateIdle, "cancel", requireAwaiting, append([]Effect{func(sess *api.Session) {
		sess.PendingProposal = nil
		sess.Messages = append(sess.Messages, api.NewMessage(api.RoleAssistant, api.MessageKindCancelled, CancelledMessage))
	}}, effects...))
}

// Finish completes a task without executing code, as for a final answer.
// Only idle and completed sessions can finish this way; a running
// execution reaches completed through its outcome.
func (g *Gate) Finish(id string, effects ...Effect) (*api.Session, error) {
	requireNoCode := func(sess *api.Session) error {
		if sess.State != api.StateIdle && sess.State != api.StateCompleted {
			return api.NewInvalidTransitionError(sess.State, "finish the task")
		}
		return nil
	}
	return g.transition(id, api.StateCompleted, "finish the task", requireNoCode, effects)
}

// StartTask readies a session for a new prompt: completed sessions go
// back to idle and idle sessions stay idle. A session with a pending
// proposal or a running execution cannot start a new task.
func (g *Gate) StartTask(id string, effects ...Effect) (*api.Session, error) {
	return g.store.Update(id, func(sess *api.Session) error {
		switch sess.State {
		case api.StateIdle:
		case api.StateCompleted:
			debug.Log("gate", "transition", "session_id", id, "from", sess.State, "to", api.StateIdle, "action", "start task")
			sess.State = api.StateIdle
		default:
			return api.NewInvalidTransitionError(sess.State, "start a new task")
		}
		for _, fx := range effects {
			fx(sess)
		}
		return nil
	})
}

// Fault returns an executing session to idle after the harness failed.
// No outcome is recorded.
func (g *Gate) Fault(id string, effects ...Effect) (*api.Session, error) {
	requireExecuting := func(sess *api.Session) error {
		if sess.State != api.StateExecuting {
			return api.NewInvalidTransitionError(sess.State, "reset after a fault")
		}
		return nil
	}
	return g.transition(id, api.StateIdle, "reset after a fault", requireExecuting, effects)
}
