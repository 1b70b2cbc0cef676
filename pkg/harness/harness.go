// Package harness runs approved code in a bounded child execution context
// and turns whatever happened into an api.ExecutionOutcome.
//
// Success, runtime errors and timeouts are all outcomes. Execute returns an
// error only when the code is rejected before running (rejected_proposal)
// or when the harness itself cannot spawn or monitor the child
// (harness_fault).
package harness

import (
	"context"
	"strings"
	"time"

	"github.com/rhuss/codegate/pkg/api"
)

// DefaultTimeLimit is the wall-clock deadline used when a Request has none.
const DefaultTimeLimit = 60 * time.Second

// Request describes one execution.
type Request struct {
	// SessionID identifies the owner; backends may use it for placement.
	SessionID string

	// Code is the cleaned program text.
	Code string

	// WorkDir is the child's current directory. It is created if missing
	// and must not be shared by overlapping executions.
	WorkDir string

	// TimeLimit is the hard deadline. Zero means the backend default.
	TimeLimit time.Duration

	// TitleHint describes the code; it names any chart found in stdout.
	TitleHint string
}

// Harness executes code. Implementations must leave no child running when
// Execute returns.
type Harness interface {
	Execute(ctx context.Context, req Request) (*api.ExecutionOutcome, error)
}

func resolveLimit(req Request, fallback time.Duration) time.Duration {
	if req.TimeLimit > 0 {
		return req.TimeLimit
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeLimit
}

func rejectEmpty(code string) error {
	if strings.TrimSpace(code) == "" {
		return api.NewRejectedProposalError("code is empty")
	}
	return nil
}
