package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	ticket_id  TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	record     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_stage ON runs (stage);
`

var (
	recordEnc cbor.EncMode
	recordDec cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	recordEnc, err = encOptions.EncMode()
	if err != nil {
		panic("orchestrator: CBOR encoder initialization failed: " + err.Error())
	}
	// Variables and payloads are map[string]any all the way down.
	recordDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("orchestrator: CBOR decoder initialization failed: " + err.Error())
	}
}

// SQLiteRunStore persists RunRecords as CBOR blobs in a single SQLite file.
type SQLiteRunStore struct {
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger
}

// NewSQLiteRunStore opens (creating if needed) the database at path.
func NewSQLiteRunStore(path string, poolSize int, logger *slog.Logger) (*SQLiteRunStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	logger.Debug("sqlite run store opened", "path", path, "pool_size", poolSize)
	return &SQLiteRunStore{pool: pool, path: path, logger: logger}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

// Close closes the connection pool.
func (s *SQLiteRunStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.path, err)
	}
	return nil
}

// Load retrieves a run by ID.
func (s *SQLiteRunStore) Load(ctx context.Context, id string) (*types.RunRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var rec *types.RunRecord
	err = sqlitex.Execute(conn, "SELECT record FROM runs WHERE ticket_id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r, err := decodeRecord(stmt)
			rec = r
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	if rec == nil {
		return nil, errors.RunNotFound(id)
	}
	return rec, nil
}

// Save upserts a record in a single statement.
func (s *SQLiteRunStore) Save(ctx context.Context, rec *types.RunRecord) error {
	blob, err := recordEnc.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `INSERT INTO runs (ticket_id, stage, outcome, updated_at, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ticket_id) DO UPDATE SET
			stage = excluded.stage,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at,
			record = excluded.record`, &sqlitex.ExecOptions{
		Args: []any{
			rec.TicketID,
			string(rec.Stage),
			rec.Outcome(),
			rec.UpdatedAt.UnixNano(),
			blob,
		},
	})
}

// Delete removes a run.
func (s *SQLiteRunStore) Delete(ctx context.Context, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM runs WHERE ticket_id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
	}); err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return errors.RunNotFound(id)
	}
	return nil
}

// List returns all runs matching filter.
func (s *SQLiteRunStore) List(ctx context.Context, filter RunFilter) ([]*types.RunRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := "SELECT record FROM runs WHERE (? = '' OR stage = ?) AND (? = '' OR outcome = ?) ORDER BY ticket_id"
	var runs []*types.RunRecord
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{string(filter.Stage), string(filter.Stage), filter.Outcome, filter.Outcome},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec, err := decodeRecord(stmt)
			if err != nil {
				s.logger.Warn("skipping undecodable run", "error", err)
				return nil
			}
			runs = append(runs, rec)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func decodeRecord(stmt *sqlite.Stmt) (*types.RunRecord, error) {
	blob := make([]byte, stmt.ColumnLen(0))
	stmt.ColumnBytes(0, blob)

	var rec types.RunRecord
	if err := recordDec.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("decoding run: %w", err)
	}
	return &rec, nil
}

var _ RunStore = (*SQLiteRunStore)(nil)
