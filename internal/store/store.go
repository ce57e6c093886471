package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Sentinel errors the API layer maps onto HTTP status codes.
var (
	// ErrNotFound is returned when a schedule does not exist or was deleted
	ErrNotFound = errors.New("schedule not found")
	// ErrRunNotFound is returned when a run record does not exist
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidState is returned when the schedule's current status does not
	// permit the requested operation
	ErrInvalidState = errors.New("operation not allowed in the schedule's current state")
)

// Store persists schedules and their runs on a relational database. It works
// against both Postgres and SQLite: every timestamp is stored as an RFC3339
// UTC string at second precision, which keeps lexicographic ordering equal to
// chronological ordering on both engines.
type Store struct {
	db *sqlx.DB
}

// New wraps an open database handle
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Schema statements are executed one at a time because the Postgres driver
// rejects multi-statement commands on its extended protocol.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schedules (
		id             TEXT PRIMARY KEY,
		suite_id       TEXT NOT NULL,
		suite_name     TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		run_at_utc     TEXT NOT NULL,
		timezone       TEXT NOT NULL DEFAULT 'UTC',
		recurrence     TEXT NOT NULL DEFAULT 'none',
		weekdays       TEXT NOT NULL DEFAULT '',
		interval_days  INTEGER NOT NULL DEFAULT 0,
		priority       INTEGER NOT NULL DEFAULT 5,
		notes          TEXT NOT NULL DEFAULT '',
		options        TEXT NOT NULL DEFAULT '{}',
		next_run       TEXT,
		run_asap       INTEGER NOT NULL DEFAULT 0,
		run_asap_notes TEXT NOT NULL DEFAULT '',
		last_run_id    TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		deleted_at     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_status ON schedules (status)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_run_at ON schedules (run_at_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_suite ON schedules (suite_id)`,
	`CREATE TABLE IF NOT EXISTS schedule_runs (
		id           TEXT PRIMARY KEY,
		schedule_id  TEXT NOT NULL,
		suite_id     TEXT NOT NULL,
		status       TEXT NOT NULL,
		triggered_by TEXT NOT NULL,
		notes        TEXT NOT NULL DEFAULT '',
		started_at   TEXT NOT NULL,
		finished_at  TEXT,
		duration_ms  INTEGER NOT NULL DEFAULT 0,
		total        INTEGER NOT NULL DEFAULT 0,
		passed       INTEGER NOT NULL DEFAULT 0,
		failed       INTEGER NOT NULL DEFAULT 0,
		skipped      INTEGER NOT NULL DEFAULT 0,
		error        TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedule_runs_schedule ON schedule_runs (schedule_id, started_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("could not apply schema statement: %w", err)
		}
	}
	return nil
}

// formatTime renders a timestamp the way it is stored: UTC, RFC3339, second
// precision. Sub-second digits are dropped on purpose, variable-width
// fractions would break string ordering in SQL comparisons.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse stored timestamp %q: %w", value, err)
	}
	return t, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		rollbackTx(tx)
		return err
	}
	return tx.Commit()
}

func rollbackTx(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Error().Err(err).Msg("Could not rollback transaction")
	}
}
