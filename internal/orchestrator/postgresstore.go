package orchestrator

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/types"
)

const (
	postgresSchema = `CREATE TABLE IF NOT EXISTS remedy_runs (
	ticket_id  TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	record     JSONB NOT NULL
)`

	postgresUpsert = `INSERT INTO remedy_runs (ticket_id, stage, outcome, updated_at, record)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (ticket_id) DO UPDATE SET
	stage = EXCLUDED.stage,
	outcome = EXCLUDED.outcome,
	updated_at = EXCLUDED.updated_at,
	record = EXCLUDED.record`

	postgresSelect = `SELECT record FROM remedy_runs WHERE ticket_id = $1`

	postgresList = `SELECT record FROM remedy_runs
WHERE ($1::text = '' OR stage = $1::text) AND ($2::text = '' OR outcome = $2::text)
ORDER BY ticket_id`

	postgresDelete = `DELETE FROM remedy_runs WHERE ticket_id = $1`

	postgresTryLock = `SELECT pg_try_advisory_lock(hashtext('remedy_runs'), hashtext($1))`
	postgresUnlock  = `SELECT pg_advisory_unlock(hashtext('remedy_runs'), hashtext($1))`
)

const postgresPingTimeout = 2 * time.Second

// PostgresRunStore persists RunRecords as JSONB rows, for deployments where
// several hosts share run state. Runs are claimed across hosts with session
// advisory locks; each run in progress pins one pooled connection, so
// store.pool_size must exceed the runs a host drives at once.
type PostgresRunStore struct {
	db *sql.DB
}

// NewPostgresRunStore connects through the pgx driver and ensures the table exists.
func NewPostgresRunStore(ctx context.Context, dsn string, maxConns int) (*PostgresRunStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, postgresPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresRunStore{db: db}, nil
}

// LockRun takes a session advisory lock on id over a dedicated connection.
// A lock held by another session is reported as an error without waiting.
func (s *PostgresRunStore) LockRun(ctx context.Context, id string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock connection: %w", err)
	}
	var locked bool
	if err := conn.QueryRowContext(ctx, postgresTryLock, id).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("locking run %s: %w", id, err)
	}
	if !locked {
		_ = conn.Close()
		return nil, fmt.Errorf("run %s is locked by another host", id)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), postgresPingTimeout)
		defer cancel()
		var released bool
		if err := conn.QueryRowContext(unlockCtx, postgresUnlock, id).Scan(&released); err != nil || !released {
			// Ending the session drops any lock it still holds.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}

// Close closes the connection pool.
func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}

// Load retrieves a run by ID.
func (s *PostgresRunStore) Load(ctx context.Context, id string) (*types.RunRecord, error) {
	var raw []byte
	if err := s.db.QueryRowContext(ctx, postgresSelect, id).Scan(&raw); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.RunNotFound(id)
		}
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	var rec types.RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &rec, nil
}

// Save upserts a record in a single statement.
func (s *PostgresRunStore) Save(ctx context.Context, rec *types.RunRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, postgresUpsert,
		rec.TicketID, string(rec.Stage), rec.Outcome(), rec.UpdatedAt, raw)
	return err
}

// Delete removes a run.
func (s *PostgresRunStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, postgresDelete, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.RunNotFound(id)
	}
	return nil
}

// List returns all runs matching filter.
func (s *PostgresRunStore) List(ctx context.Context, filter RunFilter) ([]*types.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, postgresList, string(filter.Stage), filter.Outcome)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.RunRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec types.RunRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		runs = append(runs, &rec)
	}
	return runs, rows.Err()
}

var _ RunStore = (*PostgresRunStore)(nil)
