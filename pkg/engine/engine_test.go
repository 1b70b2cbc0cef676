package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/archive"
	"github.com/rhuss/codegate/pkg/archive/memory"
	"github.com/rhuss/codegate/pkg/harness"
	"github.com/rhuss/codegate/pkg/session"
)

type harnessFunc func(ctx context.Context, req harness.Request) (*api.ExecutionOutcome, error)

func (f harnessFunc) Execute(ctx context.Context, req harness.Request) (*api.ExecutionOutcome, error) {
	return f(ctx, req)
}

func echoHarness(calls *atomic.Int32) harness.Harness {
	return harnessFunc(func(_ context.Context, req harness.Request) (*api.ExecutionOutcome, error) {
		if calls != nil {
			calls.Add(1)
		}
		out := "ran: " + req.Code + "\n"
		return api.NewSuccessOutcome(out, "", out, nil, nil), nil
	})
}

func newEngine(t *testing.T, h harness.Harness, opts ...Option) *Engine {
	t.Helper()
	e, err := New(h, Config{WorkRoot: t.TempDir(), TimeLimit: 5 * time.Second}, opts...)
	require.NoError(t, err)
	return e
}

// proposeInNewTask creates a session, starts a task and proposes code.
func proposeInNewTask(t *testing.T, e *Engine, code string) string {
	t.Helper()
	ctx := context.Background()
	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)
	require.NoError(t, e.SubmitPrompt(ctx, sess.ID, "sum the numbers from one to ten"))
	_, err = e.ProposeCode(ctx, sess.ID, code, "compute a sum")
	require.NoError(t, err)
	return sess.ID
}

func TestNewRequiresHarness(t *testing.T) {
	_, err := New(nil, Config{})
	require.Error(t, err)
}

func TestNewSession(t *testing.T) {
	e := newEngine(t, echoHarness(nil))
	ctx := context.Background()

	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)

	assert.Equal(t, api.StateIdle, sess.State)
	assert.Equal(t, session.PlaceholderName, sess.DisplayName)
	assert.Equal(t, api.LLMConfig{Model: "llama3-70b-8192", Temperature: 0.05}, sess.LLMConfig)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, Greeting, sess.Messages[0].Text)

	active, err := e.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, active.ID)

	second, err := e.NewSession(ctx, api.LLMConfig{Model: "mixtral-8x7b", Temperature: 0.7})
	require.NoError(t, err)
	active, err = e.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	require.NoError(t, e.SetActiveSession(ctx, sess.ID))
	active, err = e.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, active.ID)

	ids := []string{}
	for _, s := range e.Sessions(ctx) {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{sess.ID, second.ID}, ids)
}

func TestNewSessionRejectsBadConfig(t *testing.T) {
	e := newEngine(t, echoHarness(nil))
	_, err := e.NewSession(context.Background(), api.LLMConfig{Model: "m", Temperature: 5})
	assert.True(t, api.IsErrorType(err, api.ErrorTypeInvalidRequest))
}

func TestUnknownSession(t *testing.T) {
	e := newEngine(t, echoHarness(nil))
	ctx := context.Background()

	_, err := e.ActiveSession(ctx)
	assert.True(t, api.IsErrorType(err, api.ErrorTypeNotFound))

	checks := map[string]error{
		"session":   func() error { _, err := e.Session(ctx, "sess_missing"); return err }(),
		"activate":  e.SetActiveSession(ctx, "sess_missing"),
		"prompt":    e.SubmitPrompt(ctx, "sess_missing", "hi"),
		"approve":   func() error { _, err := e.Approve(ctx, "sess_missing"); return err }(),
		"cancel":    e.Cancel(ctx, "sess_missing"),
		"propose":   func() error { _, err := e.ProposeCode(ctx, "sess_missing", "print(1)", ""); return err }(),
		"step":      e.EmitStep(ctx, "sess_missing", api.AgentStep{Kind: api.StepThought, Text: "x"}),
		"final":     e.FinalAnswer(ctx, "sess_missing", "done"),
		"feedback":  e.SubmitFeedback(ctx, "sess_missing", api.FeedbackUp),
		"delete":    e.DeleteSession(ctx, "sess_missing"),
		"steps":     func() error { _, err := e.Steps(ctx, "sess_missing"); return err }(),
		"observe":   func() error { _, err := e.Observation(ctx, "sess_missing"); return err }(),
		"artifacts": func() error { _, err := e.ArtifactPath(ctx, "sess_missing", "a.txt"); return err }(),
	}
	for name, err := range checks {
		assert.True(t, api.IsErrorType(err, api.ErrorTypeNotFound), "%s: %v", name, err)
	}
}

func TestProposeApproveSuccess(t *testing.T) {
	var calls atomic.Int32
	arch := memory.New(10)
	e := newEngine(t, echoHarness(&calls), WithArchive(arch))
	ctx := context.Background()

	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)
	require.NoError(t, e.SubmitPrompt(ctx, sess.ID, "  Please   sum the numbers from one to ten for me  "))
	require.NoError(t, e.EmitStep(ctx, sess.ID, api.AgentStep{Kind: api.StepThought, Text: "I should write code"}))

	proposal, err := e.ProposeCode(ctx, sess.ID, "Here is the code:\n```python\nprint(sum(range(1,11)))\n```", "sum it")
	require.NoError(t, err)
	assert.Equal(t, "print(sum(range(1,11)))", proposal.Code)

	got, err := e.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateAwaitingApproval, got.State)
	assert.Equal(t, "Please sum the numbers from...", got.DisplayName)
	assert.Equal(t, int32(0), calls.Load(), "nothing runs before approval")

	outcome, err := e.Approve(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, "ran: print(sum(range(1,11)))\n", outcome.Stdout)
	assert.Equal(t, int32(1), calls.Load())

	got, err = e.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateCompleted, got.State)
	assert.Nil(t, got.PendingProposal)
	assert.Equal(t, outcome, got.LastOutcome)
	require.NotNil(t, got.LastMetrics)
	assert.Equal(t, api.OutcomeSuccess, got.LastMetrics.OutcomeKind)
	assert.Equal(t, 1, got.ExecutionCount)
	last := got.Messages[len(got.Messages)-1]
	assert.Equal(t, api.MessageKindOutcome, last.Kind)
	assert.Same(t, outcome, last.Outcome)

	stepLog, err := e.Steps(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stepLog, 2)
	assert.Equal(t, api.StepThought, stepLog[0].Kind)
	assert.Equal(t, api.StepObservation, stepLog[1].Kind)
	assert.Equal(t, "Standard Output:\nran: print(sum(range(1,11)))", stepLog[1].Text)

	obs, err := e.Observation(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, stepLog[1].Text, obs)

	recs, err := arch.List(ctx, archive.ListOptions{SessionID: sess.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, got.LastMetrics.ExecutionID, recs[0].ExecutionID)
	assert.Equal(t, "print(sum(range(1,11)))", recs[0].Code)
	assert.Len(t, recs[0].Steps, 2)

	// The proposal was consumed.
	_, err = e.Approve(ctx, sess.ID)
	assert.True(t, api.IsErrorType(err, api.ErrorTypeInvalidTransition))
	assert.Equal(t, int32(1), calls.Load())
}

func TestApproveWithoutProposal(t *testing.T) {
	var calls atomic.Int32
	e := newEngine(t, echoHarness(&calls))
	ctx := context.Background()

	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)

	_, err = e.Approve(ctx, sess.ID)
	assert.True(t, api.IsErrorType(err, api.ErrorTypeInvalidTransition))
	assert.Equal(t, int32(0), calls.Load())
}

func TestReplacementRunsLatestProposal(t *testing.T) {
	var ran []string
	e := newEngine(t, harnessFunc(func(_ context.Context, req harness.Request) (*api.ExecutionOutcome, error) {
		ran = append(ran, req.Code)
		return api.NewSuccessOutcome("", "", "", nil, nil), nil
	}))
	ctx := context.Background()

	id := proposeInNewTask(t, e, "print('first')")
	_, err := e.ProposeCode(ctx, id, "print('second')", "try again")
	require.NoError(t, err)

	_, err = e.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"print('second')"}, ran)
}

func TestRejectedProposalIsNotStored(t *testing.T) {
	e := newEngine(t, echoHarness(nil))
	ctx := context.Background()

	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)

	_, err = e.ProposeCode(ctx, sess.ID, "```python\n```", "")
	require.True(t, api.IsErrorType(err, api.ErrorTypeRejectedProposal), "got %v", err)

	got, err := e.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateIdle, got.State)
	assert.Nil(t, got.PendingProposal)
}

type checkerFunc func(ctx context.Context, code string) error

func (f checkerFunc) Check(ctx context.Context, code string) error { return f(ctx, code) }

func TestCheckerRejectsProposal(t *testing.T) {
	checker := checkerFunc(func(_ context.Context, code string) error {
		if strings.Contains(code, "def (") {
			return api.NewRejectedProposalError("syntax error: SyntaxError: invalid syntax")
		}
		return nil
	})
	e := newEngine(t, echoHarness(nil), WithChecker(checker))
	ctx := context.Background()

	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)

	_, err = e.ProposeCode(ctx, sess.ID, "def (:\n  pass", "")
	require.True(t, api.IsErrorType(err, api.ErrorTypeRejectedProposal))

	_, err = e.ProposeCode(ctx, sess.ID, "print('ok')", "")
	require.NoError(t, err)
}

func TestCancelPendingProposal(t *testing.T) {
	var calls atomic.Int32
	e := newEngine(t, echoHarness(&calls))
	ctx := context.Background()

	id := proposeInNewTask(t, e, "import os; os.remove('important')")
	require.NoError(t, e.Cancel(ctx, id))

	got, err := e.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.StateIdle, got.State)
	assert.Nil(t, got.PendingProposal)
	assert.Equal(t, "Code execution CANCELED by user.", got.Messages[len(got.Messages)-1].Text)

	_, err = e.Approve(ctx, id)
	assert.True(t, api.IsErrorType(err, api.ErrorTypeInvalidTransition))
	assert.Equal(t, int32(0), calls.Load())

	// Nothing left to cancel.
	assert.True(t, api.IsErrorType(e.Cancel(ctx, id), api.ErrorTypeInvalidTransition))
}

func TestCancelWhileExecutingTimesOut(t *testing.T) {
	started := make(chan struct{})
	e := newEngine(t, harnessFunc(func(ctx context.Context, req harness.Request) (*api.ExecutionOutcome, error) {
		close(started)
		<-ctx.Done()
		return api.NewTimeoutOutcome(req.TimeLimit, "", "", nil), nil
	}))
	ctx := context.Background()
	id := proposeInNewTask(t, e, "while True: pass")

	var g errgroup.Group
	var outcome *api.ExecutionOutcome
	g.Go(func() error {
		var err error
		outcome, err = e.Approve(ctx, id)
		return err
	})

	<-started
	require.Eventually(t, func() bool { return e.inflight.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.Cancel(ctx, id))
	require.NoError(t, g.Wait())

	assert.Equal(t, api.OutcomeTimeout, outcome.Kind)
	got, err := e.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.StateCompleted, got.State)
}

func TestApproveOutlivesCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := newEngine(t, harnessFunc(func(runCtx context.Context, _ harness.Request) (*api.ExecutionOutcome, error) {
		cancel()
		if runCtx.Err() != nil {
			return nil, errors.New("execution context was cancelled by the caller")
		}
		return api.NewSuccessOutcome("done\n", "", "done\n", nil, nil), nil
	}))
	id := proposeInNewTask(t, e, "print('done')")

	outcome, err := e.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Kind)
}

func TestHarnessFaultResetsSession(t *testing.T) {
	e := newEngine(t, harnessFunc(func(context.Context, harness.Request) (*api.ExecutionOutcome, error) {
		return nil, errors.New("fork/exec python3: resource temporarily unavailable")
	}))
	ctx := context.Background()
	id := proposeInNewTask(t, e, "print(1)")

	_, err := e.Approve(ctx, id)
	require.True(t, api.IsErrorType(err, api.ErrorTypeHarnessFault), "got %v", err)

	got, err := e.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.StateIdle, got.State)
	assert.Nil(t, got.LastOutcome)
	assert.Nil(t, got.LastMetrics)
	assert.Equal(t, 0, got.ExecutionCount)
	last := got.Messages[len(got.Messages)-1]
	assert.Equal(t, api.MessageKindError, last.Kind)
	assert.Equal(t, FaultMessage, last.Text)

	// The session is usable again.
	_, err = e.ProposeCode(ctx, id, "print(2)", "")
	require.NoError(t, err)
}

func TestRuntimeErrorAndTimeoutAreOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		outcome *api.ExecutionOutcome
	}{
		{"runtime error", api.NewRuntimeErrorOutcome("", "Traceback ...\nValueError: boom\n", 1, []api.Artifact{{Path: "out.csv", Change: api.ArtifactCreated}})},
		{"timeout", api.NewTimeoutOutcome(60*time.Second, "", "", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, harnessFunc(func(context.Context, harness.Request) (*api.ExecutionOutcome, error) {
				return tt.outcome, nil
			}))
			ctx := context.Background()
			id := proposeInNewTask(t, e, "x = 1")

			outcome, err := e.Approve(ctx, id)
			require.NoError(t, err)
			assert.Same(t, tt.outcome, outcome)

			got, err := e.Session(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, api.StateCompleted, got.State)
			assert.Equal(t, tt.outcome.Kind, got.LastMetrics.OutcomeKind)
		})
	}
}

func TestFinalAnswerAndFeedback(t *testing.T) {
	e := newEngine(t, echoHarness(nil))
	ctx := context.Background()

	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)

	// Feedback needs a completed task.
	assert.True(t, api.IsErrorType(e.SubmitFeedback(ctx, sess.ID, api.FeedbackUp), api.ErrorTypeInvalidTransition))

	require.NoError(t, e.SubmitPrompt(ctx, sess.ID, "What is a list comprehension?"))
	require.NoError(t, e.FinalAnswer(ctx, sess.ID, "A compact way to build lists."))

	got, err := e.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateCompleted, got.State)
	assert.Nil(t, got.TaskStartedAt)
	assert.GreaterOrEqual(t, got.ProcessingSeconds, 0.0)
	assert.Equal(t, api.MessageKindFinalAnswer, got.Messages[len(got.Messages)-1].Kind)

	stepLog, err := e.Steps(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stepLog, 1)
	assert.Equal(t, api.StepFinalAnswer, stepLog[0].Kind)

	require.NoError(t, e.SubmitFeedback(ctx, sess.ID, api.FeedbackDown))
	assert.True(t, api.IsErrorType(e.SubmitFeedback(ctx, sess.ID, api.FeedbackUp), api.ErrorTypeInvalidTransition))
	assert.True(t, api.IsErrorType(e.SubmitFeedback(ctx, sess.ID, api.FeedbackNone), api.ErrorTypeInvalidRequest))

	// A new task clears the vote and the step log.
	require.NoError(t, e.SubmitPrompt(ctx, sess.ID, "And a generator?"))
	got, err = e.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, api.FeedbackNone, got.Feedback)
	assert.Equal(t, "What is a list comprehension?", got.DisplayName)
	stepLog, err = e.Steps(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stepLog)
}

func TestFinalAnswerWaitsForRunningCode(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	arch := memory.New(10)
	e := newEngine(t, harnessFunc(func(context.Context, harness.Request) (*api.ExecutionOutcome, error) {
		close(started)
		<-release
		return api.NewSuccessOutcome("55\n", "", "55\n", nil, nil), nil
	}), WithArchive(arch))
	ctx := context.Background()
	id := proposeInNewTask(t, e, "print(55)")

	var g errgroup.Group
	var outcome *api.ExecutionOutcome
	g.Go(func() error {
		var err error
		outcome, err = e.Approve(ctx, id)
		return err
	})
	<-started

	err := e.FinalAnswer(ctx, id, "The answer is 55.")
	assert.True(t, api.IsErrorType(err, api.ErrorTypeInvalidTransition), "got %v", err)
	got, err := e.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.StateExecuting, got.State)

	close(release)
	require.NoError(t, g.Wait())
	require.NotNil(t, outcome)

	got, err = e.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.StateCompleted, got.State)
	assert.Equal(t, outcome, got.LastOutcome)
	require.NotNil(t, got.LastMetrics)
	recs, err := arch.List(ctx, archive.ListOptions{SessionID: id})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// Once the outcome is in, the loop can answer.
	require.NoError(t, e.FinalAnswer(ctx, id, "The answer is 55."))
}

func TestPromptWhileAwaitingApproval(t *testing.T) {
	e := newEngine(t, echoHarness(nil))
	ctx := context.Background()
	id := proposeInNewTask(t, e, "print(1)")

	err := e.SubmitPrompt(ctx, id, "never mind")
	assert.True(t, api.IsErrorType(err, api.ErrorTypeInvalidTransition))
	err = e.FinalAnswer(ctx, id, "done")
	assert.True(t, api.IsErrorType(err, api.ErrorTypeInvalidTransition))
}

func TestEmitStepValidation(t *testing.T) {
	e := newEngine(t, echoHarness(nil))
	ctx := context.Background()
	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)

	err = e.EmitStep(ctx, sess.ID, api.AgentStep{Kind: "musing", Text: "hmm"})
	assert.True(t, api.IsErrorType(err, api.ErrorTypeInvalidRequest))

	snapshot, ch, cancel, err := e.SubscribeSteps(ctx, sess.ID)
	require.NoError(t, err)
	defer cancel()
	assert.Empty(t, snapshot)

	require.NoError(t, e.EmitStep(ctx, sess.ID, api.AgentStep{Kind: api.StepAction, Text: "propose_code"}))
	select {
	case ev := <-ch:
		assert.Equal(t, sess.ID, ev.SessionID)
		assert.Equal(t, api.StepAction, ev.Step.Kind)
	case <-time.After(time.Second):
		t.Fatal("no live step received")
	}
}

func TestConcurrentSessionsDoNotCrossContaminate(t *testing.T) {
	e := newEngine(t, harnessFunc(func(_ context.Context, req harness.Request) (*api.ExecutionOutcome, error) {
		time.Sleep(time.Millisecond)
		out := req.SessionID + "\n"
		return api.NewSuccessOutcome(out, "", out, nil, nil), nil
	}))
	ctx := context.Background()

	const sessions = 8
	ids := make([]string, sessions)
	for i := range ids {
		ids[i] = proposeInNewTask(t, e, fmt.Sprintf("print(%d)", i))
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			outcome, err := e.Approve(ctx, id)
			if err != nil {
				return err
			}
			if outcome.Stdout != id+"\n" {
				return fmt.Errorf("session %s got outcome for %q", id, outcome.Stdout)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		got, err := e.Session(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id+"\n", got.LastOutcome.Stdout)
		assert.Equal(t, 1, got.ExecutionCount)
	}
}

func TestDeleteSessionRemovesWorkDir(t *testing.T) {
	e := newEngine(t, harnessFunc(func(_ context.Context, req harness.Request) (*api.ExecutionOutcome, error) {
		if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(req.WorkDir, "out.csv"), []byte("a\n1\n"), 0o644); err != nil {
			return nil, err
		}
		return api.NewSuccessOutcome("", "", "", nil, []api.Artifact{{Path: "out.csv", Change: api.ArtifactCreated}}), nil
	}))
	ctx := context.Background()
	id := proposeInNewTask(t, e, "write a file")
	_, err := e.Approve(ctx, id)
	require.NoError(t, err)

	path, err := e.ArtifactPath(ctx, id, "out.csv")
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.NoError(t, e.DeleteSession(ctx, id))
	assert.NoDirExists(t, e.workDir(id))
	_, err = e.Session(ctx, id)
	assert.True(t, api.IsErrorType(err, api.ErrorTypeNotFound))
}

func TestArtifactPath(t *testing.T) {
	e := newEngine(t, echoHarness(nil))
	ctx := context.Background()
	sess, err := e.NewSession(ctx, api.LLMConfig{})
	require.NoError(t, err)

	dir := e.workDir(sess.ID)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "plots"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plots", "a.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".secret"), []byte("x"), 0o644))

	path, err := e.ArtifactPath(ctx, sess.ID, "plots/a.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "plots", "a.png"), path)

	_, err = e.ArtifactPath(ctx, sess.ID, ".secret")
	assert.True(t, api.IsErrorType(err, api.ErrorTypeNotFound))
	_, err = e.ArtifactPath(ctx, sess.ID, "plots")
	assert.True(t, api.IsErrorType(err, api.ErrorTypeNotFound))
	_, err = e.ArtifactPath(ctx, sess.ID, "missing.txt")
	assert.True(t, api.IsErrorType(err, api.ErrorTypeNotFound))
	_, err = e.ArtifactPath(ctx, sess.ID, "../../etc/passwd")
	assert.Error(t, err)
}

func TestEndToEndWithPython(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	h := harness.NewProcessHarness(harness.ProcessConfig{TimeLimit: 10 * time.Second}, nil)
	e := newEngine(t, h, WithChecker(harness.NewPythonChecker("")))
	ctx := context.Background()

	id := proposeInNewTask(t, e, "print(sum(range(1,11)))")
	outcome, err := e.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Kind)
	assert.Contains(t, outcome.Stdout, "55")
	assert.Empty(t, outcome.Files)

	require.NoError(t, e.SubmitPrompt(ctx, id, "now write a csv and fail"))
	_, err = e.ProposeCode(ctx, id, "open('out.csv','w').write('a\\n1\\n')\nraise ValueError('boom')", "")
	require.NoError(t, err)
	outcome, err = e.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeRuntimeError, outcome.Kind)
	assert.NotZero(t, outcome.ExitCode)
	assert.Contains(t, outcome.Stderr, "ValueError: boom")
	assert.Equal(t, []string{"out.csv"}, outcome.FilePaths())

	_, err = e.ProposeCode(ctx, id, "def broken(:\n    pass", "")
	assert.True(t, api.IsErrorType(err, api.ErrorTypeRejectedProposal))
}
