package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/types"
)

// YAMLRunStore persists one YAML file per run with atomic writes.
// Multiple stores can be created for the same directory; exclusivity is
// per run via RunLock.
type YAMLRunStore struct {
	dir string // <state_dir>/runs
}

// NewYAMLRunStore creates a store under stateDir/runs.
func NewYAMLRunStore(stateDir string) (*YAMLRunStore, error) {
	dir := filepath.Join(stateDir, "runs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}

	if err := recoverInterruptedWrites(dir, LockDir(stateDir)); err != nil {
		return nil, fmt.Errorf("recovering interrupted writes: %w", err)
	}

	return &YAMLRunStore{dir: dir}, nil
}

// Dir returns the directory holding run files.
func (s *YAMLRunStore) Dir() string {
	return s.dir
}

// Close is a no-op.
func (s *YAMLRunStore) Close() error {
	return nil
}

// recoverInterruptedWrites handles .tmp files left from crashed writes.
// Runs whose lock is held belong to a live process and are left alone.
func recoverInterruptedWrites(dir, lockDir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".yaml.tmp") {
			continue
		}

		if IsRunLocked(lockDir, strings.TrimSuffix(entry.Name(), ".yaml.tmp")) {
			continue
		}

		tmpPath := filepath.Join(dir, entry.Name())
		mainPath := strings.TrimSuffix(tmpPath, ".tmp")

		if _, err := os.Stat(mainPath); err == nil {
			// The rename never happened, so the main file is the last complete write.
			os.Remove(tmpPath)
		} else if valid(tmpPath) {
			os.Rename(tmpPath, mainPath)
		} else {
			os.Remove(tmpPath)
		}
	}
	return nil
}

func valid(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var rec types.RunRecord
	return yaml.Unmarshal(data, &rec) == nil && rec.TicketID != ""
}

func (s *YAMLRunStore) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// Load retrieves a run by ID.
func (s *YAMLRunStore) Load(ctx context.Context, id string) (*types.RunRecord, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.RunNotFound(id)
		}
		return nil, err
	}

	var rec types.RunRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing run %s: %w", id, err)
	}
	return &rec, nil
}

// Save persists run state atomically (write-then-rename).
func (s *YAMLRunStore) Save(ctx context.Context, rec *types.RunRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	mainPath := s.path(rec.TicketID)
	tmpPath := mainPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, mainPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// Delete removes a run.
func (s *YAMLRunStore) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return errors.RunNotFound(id)
		}
		return err
	}
	return nil
}

// List returns all runs matching filter.
func (s *YAMLRunStore) List(ctx context.Context, filter RunFilter) ([]*types.RunRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var runs []*types.RunRecord
	for _, entry := range entries {
		name := entry.Name()
		// .yaml.tmp ends in .tmp, so it is skipped here.
		if !strings.HasSuffix(name, ".yaml") {
			continue
		}

		rec, err := s.Load(ctx, strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			continue
		}
		if filter.Matches(rec) {
			runs = append(runs, rec)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].TicketID < runs[j].TicketID })
	return runs, nil
}

var _ RunStore = (*YAMLRunStore)(nil)
