package runlog

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/secfin/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// migrationLockID keys the advisory lock held while the ledger schema migrates.
const migrationLockID int64 = 7340001

// Postgres stores the ledger in secfin.run_log.
type Postgres struct {
	pool db.Pool
}

// NewPostgres returns a ledger backed by pool. Call Migrate before first use.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the secfin schema and run_log table.
func (p *Postgres) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, p.pool, db.Migrations{
		Schema: "secfin",
		FS:     migrationFS,
		Dir:    "migrations",
		LockID: migrationLockID,
	})
}

// Start records a running invocation and returns its ID.
func (p *Postgres) Start(ctx context.Context, partition, mode string) (string, error) {
	id := uuid.New().String()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO secfin.run_log (id, partition, mode, status, started_at)
		 VALUES ($1, $2, $3, 'running', now())`,
		id, partition, mode,
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start %s %s", partition, mode)
	}
	return id, nil
}

// Complete marks a run complete.
func (p *Postgres) Complete(ctx context.Context, id string, counts Counts) error {
	return p.finish(ctx, id, StatusComplete, counts, nil)
}

// Fail marks a run failed with errMsg.
func (p *Postgres) Fail(ctx context.Context, id string, counts Counts, errMsg string) error {
	return p.finish(ctx, id, StatusFailed, counts, &errMsg)
}

func (p *Postgres) finish(ctx context.Context, id string, status Status, counts Counts, errMsg *string) error {
	countsJSON, err := jsonAPI.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal counts")
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE secfin.run_log
		 SET status = $1, completed_at = now(), counts = $2, error = $3
		 WHERE id = $4`,
		string(status), countsJSON, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: mark %s %s", id, status)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "runlog: %s", id)
	}
	return nil
}

// List returns the newest runs first.
func (p *Postgres) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, partition, mode, status, started_at, completed_at, counts, error
		 FROM secfin.run_log ORDER BY started_at DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			status     string
			countsJSON []byte
			errStr     *string
		)
		if err := rows.Scan(&e.ID, &e.Partition, &e.Mode, &status, &e.StartedAt, &e.CompletedAt, &countsJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.Status = Status(status)
		if errStr != nil {
			e.Error = *errStr
		}
		if len(countsJSON) > 0 {
			_ = jsonAPI.Unmarshal(countsJSON, &e.Counts)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate entries")
}

// LastSuccess implements Store.
func (p *Postgres) LastSuccess(ctx context.Context, partition, mode string) (*time.Time, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT started_at FROM secfin.run_log
		 WHERE partition = $1 AND mode = $2 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		partition, mode,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: last success for %s %s", partition, mode)
	}
	return &t, nil
}

// Close is a no-op; the pool belongs to the caller.
func (p *Postgres) Close() error { return nil }
