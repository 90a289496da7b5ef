package runlog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLite stores the ledger in a local database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database at dsn in WAL mode and creates the run_log table.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "runlog: migrate sqlite")
	}
	return &SQLite{db: conn}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS run_log (
	id           TEXT PRIMARY KEY,
	partition    TEXT NOT NULL,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	counts       TEXT,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_run_log_partition ON run_log(partition, mode, status);
CREATE INDEX IF NOT EXISTS idx_run_log_started_at ON run_log(started_at);
`

// Start implements Store.
func (s *SQLite) Start(ctx context.Context, partition, mode string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, partition, mode, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, partition, mode, string(StatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start %s %s", partition, mode)
	}
	return id, nil
}

// Complete implements Store.
func (s *SQLite) Complete(ctx context.Context, id string, counts Counts) error {
	return s.finish(ctx, id, StatusComplete, counts, sql.NullString{})
}

// Fail implements Store.
func (s *SQLite) Fail(ctx context.Context, id string, counts Counts, errMsg string) error {
	return s.finish(ctx, id, StatusFailed, counts, sql.NullString{String: errMsg, Valid: true})
}

func (s *SQLite) finish(ctx context.Context, id string, status Status, counts Counts, errMsg sql.NullString) error {
	countsJSON, err := jsonAPI.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, completed_at = ?, counts = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), string(countsJSON), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: mark %s %s", id, status)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "runlog: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "runlog: %s", id)
	}
	return nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, partition, mode, status, started_at, completed_at, counts, error
		 FROM run_log ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			status      string
			completedAt sql.NullTime
			countsJSON  sql.NullString
			errStr      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Partition, &e.Mode, &status, &e.StartedAt, &completedAt, &countsJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.Status = Status(status)
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		if countsJSON.Valid {
			_ = jsonAPI.UnmarshalFromString(countsJSON.String, &e.Counts)
		}
		e.Error = errStr.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate entries")
}

// LastSuccess implements Store.
func (s *SQLite) LastSuccess(ctx context.Context, partition, mode string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM run_log
		 WHERE partition = ? AND mode = ? AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		partition, mode,
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: last success for %s %s", partition, mode)
	}
	return &t, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
