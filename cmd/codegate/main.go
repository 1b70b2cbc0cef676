// Command codegate runs the human-in-the-loop code execution gate.
//
// "codegate serve" starts the HTTP and MCP server, "codegate exec" runs a
// single program after an interactive confirmation and "codegate archive"
// inspects the execution archive.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess = 0 // Code ran and succeeded
	ExitFailed  = 1 // Code was declined, failed or timed out
	ExitError   = 2 // Configuration or runtime error
)

// OutcomeError reports that the gate worked but the program did not run to
// a successful end.
type OutcomeError struct {
	Message string
}

func (e *OutcomeError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var outcomeErr *OutcomeError
		if errors.As(err, &outcomeErr) {
			os.Exit(ExitFailed)
		}
		os.Exit(ExitError)
	}
}
