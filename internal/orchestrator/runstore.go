package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meow-stack/remedy/internal/config"
	"github.com/meow-stack/remedy/internal/types"
)

// RunStore provides persistence for RunRecords, keyed by TicketID.
type RunStore interface {
	// Load retrieves a record. A missing record is a RunNotFound error.
	Load(ctx context.Context, id string) (*types.RunRecord, error)

	// Save persists a record atomically, replacing any previous version.
	Save(ctx context.Context, rec *types.RunRecord) error

	// Delete removes a record.
	Delete(ctx context.Context, id string) error

	// List returns all records matching filter, ordered by TicketID.
	List(ctx context.Context, filter RunFilter) ([]*types.RunRecord, error)

	// Close releases the store's resources.
	Close() error
}

// RunLocker is implemented by stores shared between hosts. LockRun claims
// id for this process until the returned func is called.
type RunLocker interface {
	LockRun(ctx context.Context, id string) (func(), error)
}

// RunFilter for listing runs.
type RunFilter struct {
	Stage   types.RunStage // Filter by stage (empty = all)
	Outcome string         // "completed", "failed" or "active" (empty = all)
}

// Matches reports whether a record passes the filter.
func (f RunFilter) Matches(rec *types.RunRecord) bool {
	if f.Stage != "" && rec.Stage != f.Stage {
		return false
	}
	if f.Outcome != "" && rec.Outcome() != f.Outcome {
		return false
	}
	return true
}

// NewRunStore opens the store selected by configuration.
func NewRunStore(ctx context.Context, cfg *config.Config, baseDir string, logger *slog.Logger) (RunStore, error) {
	switch cfg.Store.Backend {
	case config.StoreYAML, "":
		return NewYAMLRunStore(cfg.StateDir(baseDir))
	case config.StoreSQLite:
		return NewSQLiteRunStore(cfg.SQLitePath(baseDir), cfg.Store.PoolSize, logger)
	case config.StorePostgres:
		dsn := cfg.PostgresDSN()
		if dsn == "" {
			return nil, fmt.Errorf("postgres store needs a DSN in $%s", cfg.Store.PostgresEnv)
		}
		return NewPostgresRunStore(ctx, dsn, cfg.Store.PoolSize)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
