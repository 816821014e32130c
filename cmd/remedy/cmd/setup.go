package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/meow-stack/remedy/internal/archive"
	"github.com/meow-stack/remedy/internal/catalog"
	"github.com/meow-stack/remedy/internal/config"
	"github.com/meow-stack/remedy/internal/logging"
	"github.com/meow-stack/remedy/internal/orchestrator"
	"github.com/meow-stack/remedy/internal/runner"
	"github.com/meow-stack/remedy/internal/ticket"
)

// loadConfig returns the effective configuration and the directory its
// relative paths resolve against.
func loadConfig() (*config.Config, string, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, dir, nil
}

// app holds everything a command needs to drive runs.
type app struct {
	cfg    *config.Config
	dir    string
	logger *slog.Logger
	flows  *catalog.Catalog
	store  orchestrator.RunStore
	engine *orchestrator.Engine

	closers []io.Closer
	cleanup []func()
}

// appOptions adjusts how openApp wires the engine.
type appOptions struct {
	// tickets replaces the ServiceNow client when set.
	tickets ticket.Controller
	// scratch keeps run state in a throwaway directory and disables archiving.
	scratch bool
}

// openStore opens only the configured run store, for read-only commands.
func openStore(ctx context.Context) (*app, error) {
	cfg, dir, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, dir: dir}
	if err := a.openLogger(); err != nil {
		return nil, err
	}
	a.store, err = orchestrator.NewRunStore(ctx, cfg, dir, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	a.closers = append(a.closers, a.store)
	return a, nil
}

// openApp loads configuration and the flow catalog and wires the engine.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, dir, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, dir: dir}
	if err := a.openLogger(); err != nil {
		return nil, err
	}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openLogger() error {
	logger, closer, err := logging.NewFromConfig(a.cfg, a.dir)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	a.logger = logger
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return nil
}

func (a *app) wire(ctx context.Context, opts appOptions) error {
	cfg := a.cfg
	if opts.scratch {
		tmp, err := os.MkdirTemp("", "remedy-dry-run-")
		if err != nil {
			return fmt.Errorf("creating scratch state: %w", err)
		}
		a.cleanup = append(a.cleanup, func() { os.RemoveAll(tmp) })

		scratch := *cfg
		scratch.Paths.StateDir = tmp
		scratch.Store.Backend = config.StoreYAML
		scratch.Archive.Backend = config.ArchiveNone
		cfg = &scratch
		a.cfg = cfg
	}

	flows, err := catalog.Load(cfg.CatalogPath(a.dir), cfg.UseCasesDir(a.dir))
	if err != nil {
		return err
	}
	a.flows = flows

	tickets := opts.tickets
	if tickets == nil {
		sn, err := ticket.New(cfg)
		if err != nil {
			return err
		}
		tickets = sn
	}

	a.store, err = orchestrator.NewRunStore(ctx, cfg, a.dir, a.logger)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	a.closers = append(a.closers, a.store)

	a.engine = orchestrator.New(cfg, a.dir, flows, a.store, tickets, runner.New(cfg.Runner), a.logger)
	a.engine.SetRunLogger(func(runID string) (*slog.Logger, io.Closer, error) {
		return logging.NewForRun(cfg, a.dir, runID)
	})

	arc, err := archive.New(ctx, cfg, a.dir)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	if arc != nil {
		a.engine.SetArchive(arc)
	}
	return nil
}

// Close releases the store, log files and scratch state.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
	for _, f := range a.cleanup {
		f()
	}
}
