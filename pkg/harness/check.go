package harness

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/debug"
)

// Checker performs the syntactic sanity check that guards the harness.
// It is not a security boundary.
type Checker interface {
	Check(ctx context.Context, code string) error
}

// compileScript compiles stdin without executing it.
const compileScript = "import sys\ncompile(sys.stdin.read(), '<string>', 'exec')\n"

// PythonChecker compiles code with the interpreter that will run it.
type PythonChecker struct {
	Interpreter string
	Timeout     time.Duration
}

// NewPythonChecker returns a checker for the given interpreter.
func NewPythonChecker(interpreter string) *PythonChecker {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	return &PythonChecker{Interpreter: interpreter, Timeout: 10 * time.Second}
}

// Check returns a rejected_proposal error carrying the compiler's message
// when code does not compile, and a harness_fault when the interpreter
// cannot be run at all.
func (c *PythonChecker) Check(ctx context.Context, code string) error {
	if err := rejectEmpty(code); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Interpreter, "-c", compileScript)
	cmd.Stdin = strings.NewReader(code)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		msg := lastLine(stderr.String())
		debug.Log("harness", "syntax check failed", "error", msg)
		return api.NewRejectedProposalError("syntax error: " + msg)
	}
	return api.NewHarnessFaultError(fmt.Errorf("running syntax check: %w", err))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Prepare cleans raw model output and checks the result. A nil checker
// skips the syntax check.
func Prepare(ctx context.Context, checker Checker, raw string) (string, error) {
	code, err := CleanCode(raw)
	if err != nil {
		return "", err
	}
	if checker != nil {
		if err := checker.Check(ctx, code); err != nil {
			return "", err
		}
	}
	return code, nil
}
