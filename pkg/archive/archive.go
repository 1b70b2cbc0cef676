// Package archive defines the append-only audit log of completed
// executions. Records are written once, after an outcome is recorded, and
// are never used to rebuild sessions.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/rhuss/codegate/pkg/api"
)

// Sentinel errors for archive operations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("execution record not found")

	// ErrConflict is returned when a record with the given execution ID already exists.
	ErrConflict = errors.New("execution record already exists")
)

// Record is one archived execution.
type Record struct {
	ExecutionID string                `json:"execution_id"`
	SessionID   string                `json:"session_id"`
	Backend     string                `json:"backend"`
	Code        string                `json:"code"`
	Rationale   string                `json:"rationale,omitempty"`
	Outcome     *api.ExecutionOutcome `json:"outcome"`
	Metrics     *api.ExecutionMetrics `json:"metrics"`
	Steps       []api.AgentStep       `json:"steps"`
	CreatedAt   time.Time             `json:"created_at"`
}

// ListOptions filters and pages List results. Records are returned newest
// first.
type ListOptions struct {
	// SessionID restricts results to one session.
	SessionID string

	// After is the execution ID of the last record of the previous page.
	After string

	// Limit is the page size (default 20, max 100).
	Limit int
}

// NormalizedLimit returns the effective page size.
func (o ListOptions) NormalizedLimit() int {
	switch {
	case o.Limit <= 0:
		return 20
	case o.Limit > 100:
		return 100
	}
	return o.Limit
}

// Archive stores execution records.
type Archive interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, executionID string) (*Record, error)
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Validate checks the fields every backend relies on.
func (r *Record) Validate() error {
	if r.ExecutionID == "" {
		return errors.New("execution_id is required")
	}
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	if r.Outcome == nil {
		return errors.New("outcome is required")
	}
	return nil
}
