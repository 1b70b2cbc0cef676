// Package postgres archives executions in PostgreSQL through a pgx pool.
// Outcomes, metrics and steps live in JSONB columns; the summary columns
// next to them exist for ad-hoc queries.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/archive"
	"github.com/rhuss/codegate/pkg/debug"
)

const uniqueViolation = "23505"

// Store is an Archive backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ archive.Archive = (*Store)(nil)

// New opens the pool and checks connectivity. Migrations run first when
// cfg.MigrateOnStart is set.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.start(ctx, cfg.MigrateOnStart); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) start(ctx context.Context, migrate bool) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if !migrate {
		return nil
	}
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

const insertExecution = `
INSERT INTO executions (
	execution_id, session_id, backend, code, rationale,
	outcome_kind, exit_code, elapsed_seconds, file_count,
	outcome, metrics, steps, created_at
) VALUES (
	@id, @session, @backend, @code, NULLIF(@rationale, ''),
	@kind, @exit_code, @elapsed, @file_count,
	@outcome, @metrics, @steps, @created_at
)`

func (s *Store) Save(ctx context.Context, rec *archive.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	var elapsed *float64
	if rec.Metrics != nil {
		elapsed = &rec.Metrics.ElapsedSeconds
	}
	steps := rec.Steps
	if steps == nil {
		steps = []api.AgentStep{}
	}

	_, err := s.pool.Exec(ctx, insertExecution, pgx.NamedArgs{
		"id":         rec.ExecutionID,
		"session":    rec.SessionID,
		"backend":    rec.Backend,
		"code":       rec.Code,
		"rationale":  rec.Rationale,
		"kind":       string(rec.Outcome.Kind),
		"exit_code":  rec.Outcome.ExitCode,
		"elapsed":    elapsed,
		"file_count": len(rec.Outcome.Files),
		"outcome":    rec.Outcome,
		"metrics":    rec.Metrics,
		"steps":      steps,
		"created_at": rec.CreatedAt,
	})
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return archive.ErrConflict
	case err != nil:
		return fmt.Errorf("inserting execution %s: %w", rec.ExecutionID, err)
	}
	debug.Log("archive", "saved", "execution_id", rec.ExecutionID, "backend", "postgres")
	return nil
}

const selectExecutions = `
SELECT execution_id, session_id, backend, code, COALESCE(rationale, ''),
       outcome, metrics, steps, created_at
FROM executions`

// scanRecord reads one row of selectExecutions. JSONB columns decode
// straight into the record fields; a NULL metrics column leaves Metrics nil.
func scanRecord(row pgx.CollectableRow) (*archive.Record, error) {
	var rec archive.Record
	err := row.Scan(
		&rec.ExecutionID, &rec.SessionID, &rec.Backend, &rec.Code, &rec.Rationale,
		&rec.Outcome, &rec.Metrics, &rec.Steps, &rec.CreatedAt,
	)
	return &rec, err
}

func (s *Store) Get(ctx context.Context, executionID string) (*archive.Record, error) {
	rows, _ := s.pool.Query(ctx, selectExecutions+" WHERE execution_id = $1", executionID)
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution %s: %w", executionID, err)
	}
	return rec, nil
}

// List pages newest first with a keyset cursor on (created_at,
// execution_id). A cursor naming an unknown execution matches nothing.
func (s *Store) List(ctx context.Context, opts archive.ListOptions) ([]*archive.Record, error) {
	var where []string
	args := pgx.NamedArgs{"limit": opts.NormalizedLimit()}
	if opts.SessionID != "" {
		where = append(where, "session_id = @session")
		args["session"] = opts.SessionID
	}
	if opts.After != "" {
		where = append(where, "(created_at, execution_id) < (SELECT created_at, execution_id FROM executions WHERE execution_id = @after)")
		args["after"] = opts.After
	}

	query := selectExecutions
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, execution_id DESC LIMIT @limit"

	rows, _ := s.pool.Query(ctx, query, args)
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	if recs == nil {
		recs = []*archive.Record{}
	}
	return recs, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
