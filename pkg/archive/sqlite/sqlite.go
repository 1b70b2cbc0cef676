// Package sqlite provides a single-file execution archive on SQLite.
// Outcomes, metrics and steps are stored as one zstd-compressed JSON blob
// per record; indexed columns stay uncompressed for filtering.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/archive"
	"github.com/rhuss/codegate/pkg/debug"
)

const schema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS executions (
	execution_id TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	backend      TEXT NOT NULL,
	code         TEXT NOT NULL,
	rationale    TEXT NOT NULL DEFAULT '',
	outcome_kind TEXT NOT NULL,
	payload      BLOB NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at, execution_id);
`

// payload is the compressed part of a row.
type payload struct {
	Outcome *api.ExecutionOutcome `json:"outcome"`
	Metrics *api.ExecutionMetrics `json:"metrics,omitempty"`
	Steps   []api.AgentStep       `json:"steps"`
}

// Store is a SQLite-backed Archive.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ archive.Archive = (*Store)(nil)

// New opens (or creates) the database at path. Use ":memory:" for a
// private in-memory database.
func New(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Save inserts a record.
func (s *Store) Save(ctx context.Context, rec *archive.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload{Outcome: rec.Outcome, Metrics: rec.Metrics, Steps: rec.Steps})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	blob := s.enc.EncodeAll(raw, nil)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, session_id, backend, code, rationale, outcome_kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.SessionID, rec.Backend, rec.Code, rec.Rationale,
		string(rec.Outcome.Kind), blob, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return archive.ErrConflict
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	debug.Log("archive", "saved", "execution_id", rec.ExecutionID, "backend", "sqlite",
		"payload_bytes", len(raw), "stored_bytes", len(blob))
	return nil
}

const selectColumns = `SELECT execution_id, session_id, backend, code, rationale, payload, created_at FROM executions`

// Get returns a record by execution ID.
func (s *Store) Get(ctx context.Context, executionID string) (*archive.Record, error) {
	rec, err := s.scan(s.db.QueryRowContext(ctx, selectColumns+" WHERE execution_id = ?", executionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, opts archive.ListOptions) ([]*archive.Record, error) {
	query := selectColumns + " WHERE 1 = 1"
	var args []any
	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.After != "" {
		var cursorAt int64
		err := s.db.QueryRowContext(ctx, "SELECT created_at FROM executions WHERE execution_id = ?", opts.After).Scan(&cursorAt)
		if errors.Is(err, sql.ErrNoRows) {
			return []*archive.Record{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
		query += " AND (created_at < ? OR (created_at = ? AND execution_id < ?))"
		args = append(args, cursorAt, cursorAt, opts.After)
	}
	query += " ORDER BY created_at DESC, execution_id DESC LIMIT ?"
	args = append(args, opts.NormalizedLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	out := []*archive.Record{}
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (*archive.Record, error) {
	var rec archive.Record
	var blob []byte
	var createdAt int64
	if err := row.Scan(&rec.ExecutionID, &rec.SessionID, &rec.Backend, &rec.Code, &rec.Rationale, &blob, &createdAt); err != nil {
		return nil, err
	}
	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	rec.Outcome, rec.Metrics, rec.Steps = p.Outcome, p.Metrics, p.Steps
	rec.CreatedAt = time.Unix(0, createdAt)
	return &rec, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database and releases the codec.
func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
