package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/engine"
	"github.com/rhuss/codegate/pkg/gate"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	codeStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// promptConfirm is a test hook for replacing the approval prompt in tests.
// Returns true for yes.
var promptConfirm = defaultPromptConfirm

func defaultPromptConfirm(in io.Reader, out io.Writer, question string) bool {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

type execOptions struct {
	yes       bool
	rationale string
}

func newExecCommand(global *globalOptions) *cobra.Command {
	opts := &execOptions{}
	cmd := &cobra.Command{
		Use:   "exec [file]",
		Short: "Propose a program and run it after confirmation",
		Long: `Exec reads a Python program from a file (or stdin when the file is "-"
or omitted), cleans it the same way proposals from a reasoning loop are
cleaned, shows it and asks for approval before running it in a fresh
session working directory.

Without a terminal to ask on, the program is cancelled unless --yes is
given. Exit status is 1 when the program is cancelled, fails or times out.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			code, err := readProgram(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}
			// Stdin already carried the program.
			confirmIn := cmd.InOrStdin()
			if path == "-" {
				confirmIn = nil
			}

			eng, cleanup, err := newEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return runExec(cmd.Context(), eng, code, confirmIn, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Approve without asking")
	cmd.Flags().StringVar(&opts.rationale, "rationale", "", "Rationale recorded with the proposal")

	return cmd
}

func readProgram(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading program from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading program: %w", err)
	}
	return string(data), nil
}

func runExec(ctx context.Context, eng *engine.Engine, code string, in io.Reader, out io.Writer, opts *execOptions) error {
	sess, err := eng.NewSession(ctx, api.LLMConfig{})
	if err != nil {
		return err
	}
	// The working directory is kept when the program produced files.
	keep := false
	defer func() {
		if !keep {
			_ = eng.DeleteSession(context.WithoutCancel(ctx), sess.ID)
		}
	}()

	proposal, err := eng.ProposeCode(ctx, sess.ID, code, opts.rationale)
	if err != nil {
		if api.IsErrorType(err, api.ErrorTypeRejectedProposal) {
			fmt.Fprintln(out, errorStyle.Render("Proposal rejected: ")+err.Error())
			return &OutcomeError{Message: "proposal rejected"}
		}
		return err
	}

	fmt.Fprintln(out, headerStyle.Render("Proposed code"))
	fmt.Fprintln(out, codeStyle.Render(proposal.Code))

	approved := opts.yes
	if !approved && in != nil {
		approved = promptConfirm(in, out, "Run this code?")
	}
	if !approved {
		if err := eng.Cancel(ctx, sess.ID); err != nil {
			return err
		}
		fmt.Fprintln(out, warnStyle.Render(gate.CancelledMessage))
		return &OutcomeError{Message: "execution cancelled"}
	}

	outcome, err := eng.Approve(ctx, sess.ID)
	if err != nil {
		return err
	}
	renderOutcome(out, outcome)
	for _, f := range outcome.Files {
		path, err := eng.ArtifactPath(ctx, sess.ID, f.Path)
		if err != nil {
			continue
		}
		keep = true
		fmt.Fprintf(out, "%s %s %s\n", labelStyle.Render(string(f.Change)), path, labelStyle.Render(f.MIMEType))
	}
	if outcome.Kind != api.OutcomeSuccess {
		return &OutcomeError{Message: fmt.Sprintf("execution ended with %s", outcome.Kind)}
	}
	return nil
}

func renderOutcome(out io.Writer, o *api.ExecutionOutcome) {
	switch o.Kind {
	case api.OutcomeSuccess:
		fmt.Fprintln(out, okStyle.Render("Execution succeeded"))
	case api.OutcomeRuntimeError:
		fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("Execution failed (exit code %d)", o.ExitCode)))
	case api.OutcomeTimeout:
		fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("Execution timed out after %gs", o.TimeLimitSeconds)))
	}
	fmt.Fprintln(out, o.Observation())
}
