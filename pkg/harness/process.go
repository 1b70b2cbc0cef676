package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/artifact"
	"github.com/rhuss/codegate/pkg/classify"
	"github.com/rhuss/codegate/pkg/debug"
)

const (
	// DefaultInterpreter runs the code.
	DefaultInterpreter = "python3"

	// maxInlineCode is the largest program passed with -c; larger programs
	// go through a temporary script outside the working directory.
	maxInlineCode = 64 * 1024

	defaultWaitDelay = 2 * time.Second
)

// ProcessConfig configures a ProcessHarness.
type ProcessConfig struct {
	// Interpreter is the executable (default python3).
	Interpreter string

	// Env is appended to the server's environment for every child.
	Env []string

	// TimeLimit is the default deadline (default 60s).
	TimeLimit time.Duration

	// WaitDelay bounds how long output pipes may stay open after the
	// child is killed (default 2s).
	WaitDelay time.Duration

	// TrackCreationOrder watches the working directory during execution so
	// created files are reported in the order they appeared.
	TrackCreationOrder bool
}

// ProcessHarness runs code as a local interpreter subprocess in its own
// process group. On deadline the whole group is killed.
type ProcessHarness struct {
	cfg     ProcessConfig
	scanner *artifact.Scanner
}

var _ Harness = (*ProcessHarness)(nil)

// NewProcessHarness creates a ProcessHarness.
func NewProcessHarness(cfg ProcessConfig, scanner *artifact.Scanner) *ProcessHarness {
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultInterpreter
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = DefaultTimeLimit
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if scanner == nil {
		scanner = artifact.NewScanner()
	}
	return &ProcessHarness{cfg: cfg, scanner: scanner}
}

// Execute runs req.Code with req.WorkDir as the current directory. Standard
// input is an open pipe that never delivers data, so a blocking read waits
// for the deadline.
func (h *ProcessHarness) Execute(ctx context.Context, req Request) (*api.ExecutionOutcome, error) {
	if err := rejectEmpty(req.Code); err != nil {
		return nil, err
	}
	limit := resolveLimit(req, h.cfg.TimeLimit)

	slog.Info("execute request",
		"session_id", req.SessionID,
		"code", debug.Truncate(req.Code, 120),
		"timeout", limit,
		"workdir", req.WorkDir,
	)

	before, err := h.scanner.Snapshot(req.WorkDir)
	if err != nil {
		return nil, api.NewHarnessFaultError(fmt.Errorf("snapshot before execution: %w", err))
	}
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return nil, api.NewHarnessFaultError(fmt.Errorf("create working directory: %w", err))
	}

	var watcher *artifact.Watcher
	if h.cfg.TrackCreationOrder {
		watcher, err = h.scanner.Watch(req.WorkDir)
		if err != nil {
			slog.Warn("creation order tracking unavailable", "workdir", req.WorkDir, "error", err)
		}
	}

	args, cleanup, err := h.interpreterArgs(req.Code)
	if err != nil {
		if watcher != nil {
			watcher.Close()
		}
		return nil, api.NewHarnessFaultError(err)
	}
	defer cleanup()

	res, err := h.run(ctx, req.WorkDir, args, limit)
	var hint []string
	if watcher != nil {
		watcher.Close()
		hint = watcher.Order()
	}
	if err != nil {
		return nil, api.NewHarnessFaultError(err)
	}

	after, err := h.scanner.Snapshot(req.WorkDir)
	if err != nil {
		return nil, api.NewHarnessFaultError(fmt.Errorf("snapshot after execution: %w", err))
	}
	files := artifact.DiffOrdered(before, after, hint)

	var outcome *api.ExecutionOutcome
	switch {
	case res.timedOut:
		outcome = api.NewTimeoutOutcome(limit, res.stdout, res.stderr, files)
	case res.exitCode == 0:
		c := classify.Classify(res.stdout, classify.WithTitleHint(req.TitleHint))
		if c.Warning != "" {
			slog.Warn("chart payload ignored", "session_id", req.SessionID, "reason", c.Warning)
		}
		outcome = api.NewSuccessOutcome(res.stdout, res.stderr, c.Text, c.Chart, files)
	default:
		outcome = api.NewRuntimeErrorOutcome(res.stdout, res.stderr, res.exitCode, files)
	}

	slog.Info("execute complete",
		"session_id", req.SessionID,
		"outcome", outcome.Kind,
		"exit_code", outcome.ExitCode,
		"duration_ms", res.duration.Milliseconds(),
		"stdout_len", len(res.stdout),
		"stdout", debug.Truncate(res.stdout, 200),
		"files", len(files),
	)
	debug.Trace("harness", "full output", "stdout", res.stdout, "stderr", res.stderr)
	return outcome, nil
}

func (h *ProcessHarness) interpreterArgs(code string) ([]string, func(), error) {
	if len(code) <= maxInlineCode {
		return []string{"-c", code}, func() {}, nil
	}
	f, err := os.CreateTemp("", "codegate-*.py")
	if err != nil {
		return nil, nil, fmt.Errorf("create script file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		cleanup()
		return nil, nil, fmt.Errorf("write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write script file: %w", err)
	}
	return []string{f.Name()}, cleanup, nil
}

type runResult struct {
	stdout   string
	stderr   string
	exitCode int
	timedOut bool
	duration time.Duration
}

// run spawns the child and waits for it. Cancellation of ctx is handled
// like the deadline: the process group is killed and the run counts as
// timed out.
func (h *ProcessHarness) run(ctx context.Context, dir string, args []string, limit time.Duration) (*runResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	// The write end stays open until the child is gone.
	defer stdinW.Close()

	cmd := exec.CommandContext(execCtx, h.cfg.Interpreter, args...)
	cmd.Dir = dir
	// Unbuffered output keeps what was printed before a kill.
	cmd.Env = append(append(os.Environ(), "PYTHONUNBUFFERED=1"), h.cfg.Env...)
	cmd.Stdin = stdinR
	cmd.WaitDelay = h.cfg.WaitDelay
	configureProcessGroup(cmd)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		stdinR.Close()
		return nil, fmt.Errorf("start %s: %w", h.cfg.Interpreter, err)
	}
	stdinR.Close()
	debug.Log("harness", "spawned", "pid", cmd.Process.Pid, "dir", dir)

	waitErr := cmd.Wait()
	duration := time.Since(startTime)

	// Reap anything the child left behind in its group.
	if err := killProcessGroup(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("failed to kill process group", "pid", cmd.Process.Pid, "error", err)
	}

	res := &runResult{
		stdout:   stdoutBuf.String(),
		stderr:   stderrBuf.String(),
		duration: duration,
	}

	// Check the deadline first; it takes precedence over the exit error.
	if execCtx.Err() != nil {
		res.timedOut = true
		res.exitCode = -1
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.exitCode = 0
	case errors.As(waitErr, &exitErr):
		res.exitCode = exitErr.ExitCode()
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The child exited but a descendant held the output pipes open.
		res.exitCode = cmd.ProcessState.ExitCode()
	default:
		return nil, fmt.Errorf("wait for child: %w", waitErr)
	}
	return res, nil
}
