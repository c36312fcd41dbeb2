// Package filestore provides the durable implementation of the store.Gateway
// contract, writing one JSON document per graph version and per run snapshot
// under a data directory.
//
// Atomic replace is implemented with the usual temp-file-and-rename protocol:
// the new snapshot is written to a temp file in the same directory, fsynced,
// and renamed over the old one. A reader therefore sees either the previous
// snapshot or the new one, never a torn write. The step audit log is an
// append-only JSONL file per run.
//
// Layout under the data dir:
//
//	graphs/<graph_id>/v<version>.json
//	runs/<run_id>.json
//	runs/<run_id>.steps.jsonl
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vk/flowgridgo/internal/graph"
	"github.com/vk/flowgridgo/internal/run"
	"github.com/vk/flowgridgo/internal/store"
)

// Store is a file-backed store.Gateway. The mutex serializes writers; reads
// of committed files are safe concurrently because replace is atomic.
type Store struct {
	mu      sync.Mutex
	dataDir string
}

// New creates the data directory layout if needed and returns the store.
func New(dataDir string) (*Store, error) {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, "graphs"), filepath.Join(dataDir, "runs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	return &Store{dataDir: dataDir}, nil
}

var _ store.Gateway = (*Store)(nil)

func (s *Store) graphDir(id string) string {
	return filepath.Join(s.dataDir, "graphs", id)
}

func (s *Store) graphPath(id string, version int) string {
	return filepath.Join(s.graphDir(id), fmt.Sprintf("v%d.json", version))
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.dataDir, "runs", runID+".json")
}

func (s *Store) stepLogPath(runID string) string {
	return filepath.Join(s.dataDir, "runs", runID+".steps.jsonl")
}

// SaveGraph scans existing versions for the id, assigns the next one, and
// writes the document atomically.
func (s *Store) SaveGraph(ctx context.Context, g *graph.Graph) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestGraphVersion(g.ID)
	if err != nil {
		return 0, err
	}
	version := latest + 1
	g.Version = version

	if err := os.MkdirAll(s.graphDir(g.ID), 0o755); err != nil {
		return 0, fmt.Errorf("create graph dir: %w", err)
	}
	if err := writeJSONAtomic(s.graphPath(g.ID, version), g); err != nil {
		return 0, err
	}
	return version, nil
}

// LoadGraph reads one graph version. Version 0 means the latest.
func (s *Store) LoadGraph(ctx context.Context, id string, version int) (*graph.Graph, error) {
	if version == 0 {
		latest, err := s.latestGraphVersion(id)
		if err != nil {
			return nil, err
		}
		if latest == 0 {
			return nil, store.ErrNotFound
		}
		version = latest
	}

	data, err := os.ReadFile(s.graphPath(id, version))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read graph %s v%d: %w", id, version, err)
	}

	var g graph.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: graph %s v%d: %v", store.ErrCorrupt, id, version, err)
	}
	return &g, nil
}

func (s *Store) latestGraphVersion(id string) (int, error) {
	entries, err := os.ReadDir(s.graphDir(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan graph versions for %s: %w", id, err)
	}

	latest := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json"))
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

// SaveRun atomically replaces the run snapshot after the revision check.
func (s *Store) SaveRun(ctx context.Context, state *run.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadRunLocked(state.RunID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if state.Revision != 1 {
			return store.ErrRevisionConflict
		}
	case err != nil:
		// A corrupt prior snapshot cannot arbitrate revisions; reject the
		// write and leave the record for recovery to quarantine.
		return err
	case state.Revision != existing.Revision+1:
		return store.ErrRevisionConflict
	}

	return writeJSONAtomic(s.runPath(state.RunID), state)
}

// LoadRun reads the latest run snapshot.
func (s *Store) LoadRun(ctx context.Context, runID string) (*run.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRunLocked(runID)
}

func (s *Store) loadRunLocked(runID string) (*run.State, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}

	var state run.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", store.ErrCorrupt, runID, err)
	}
	if state.IterationCounts == nil {
		state.IterationCounts = make(map[string]int)
	}
	if state.Context == nil {
		state.Context = make(map[string]any)
	}
	return &state, nil
}

// ListIncompleteRuns scans the runs directory. Snapshots that fail to decode
// are included so recovery can quarantine them explicitly.
func (s *Store) ListIncompleteRuns(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dataDir, "runs"))
	if err != nil {
		return nil, fmt.Errorf("scan runs dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		runID := strings.TrimSuffix(name, ".json")
		state, err := s.loadRunLocked(runID)
		if errors.Is(err, store.ErrCorrupt) {
			ids = append(ids, runID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !state.Status.Terminal() {
			ids = append(ids, runID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendStep appends one JSONL record to the run's audit log.
func (s *Store) AppendStep(ctx context.Context, runID string, result run.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode step record: %w", err)
	}

	f, err := os.OpenFile(s.stepLogPath(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open step log for %s: %w", runID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append step record for %s: %w", runID, err)
	}
	return f.Sync()
}

// writeJSONAtomic writes the document to a temp file in the target directory,
// fsyncs it, and renames it over the destination.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
