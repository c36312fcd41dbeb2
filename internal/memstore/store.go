// Package memstore provides an ephemeral, thread-safe, in-memory
// implementation of the store.Gateway contract.
//
// It is suitable for tests and for single-process deployments that do not
// need runs to survive a restart. Every value crossing the boundary is
// deep-copied, so a caller holding a returned snapshot never observes the
// owning worker's later mutations.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/vk/flowgridgo/internal/graph"
	"github.com/vk/flowgridgo/internal/run"
	"github.com/vk/flowgridgo/internal/store"
)

// Store is an in-memory store.Gateway. A single RWMutex guards all maps;
// writes are frequent but cheap (map insert of a pre-built copy), so
// fine-grained locking buys nothing here.
type Store struct {
	mu     sync.RWMutex
	graphs map[string]map[int]*graph.Graph
	latest map[string]int
	runs   map[string]*run.State
	steps  map[string][]run.StepResult
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		graphs: make(map[string]map[int]*graph.Graph),
		latest: make(map[string]int),
		runs:   make(map[string]*run.State),
		steps:  make(map[string][]run.StepResult),
	}
}

var _ store.Gateway = (*Store)(nil)

// SaveGraph assigns the next version for the graph id and stores a copy.
func (s *Store) SaveGraph(ctx context.Context, g *graph.Graph) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.latest[g.ID] + 1
	g.Version = version

	stored := *g
	if s.graphs[g.ID] == nil {
		s.graphs[g.ID] = make(map[int]*graph.Graph)
	}
	s.graphs[g.ID][version] = &stored
	s.latest[g.ID] = version
	return version, nil
}

// LoadGraph returns the requested graph version, or the latest for version 0.
func (s *Store) LoadGraph(ctx context.Context, id string, version int) (*graph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.graphs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if version == 0 {
		version = s.latest[id]
	}
	g, ok := versions[version]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *g
	return &out, nil
}

// SaveRun replaces the run snapshot after checking the revision chain.
func (s *Store) SaveRun(ctx context.Context, state *run.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[state.RunID]
	if !ok {
		if state.Revision != 1 {
			return store.ErrRevisionConflict
		}
	} else if state.Revision != existing.Revision+1 {
		return store.ErrRevisionConflict
	}

	s.runs[state.RunID] = state.Clone()
	return nil
}

// LoadRun returns a deep copy of the latest snapshot.
func (s *Store) LoadRun(ctx context.Context, runID string) (*run.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return state.Clone(), nil
}

// ListIncompleteRuns returns ids of all non-terminal runs, sorted for
// deterministic recovery order.
func (s *Store) ListIncompleteRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, state := range s.runs {
		if !state.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendStep appends to the run's audit log.
func (s *Store) AppendStep(ctx context.Context, runID string, result run.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[runID] = append(s.steps[runID], result)
	return nil
}

// StepLog returns a copy of the audit log for a run. Primarily for tests.
func (s *Store) StepLog(runID string) []run.StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]run.StepResult, len(s.steps[runID]))
	copy(out, s.steps[runID])
	return out
}
