// Package store defines the persistence gateway contract the engine runs
// against. The contract is implementation-agnostic: any store that can
// atomically replace a run's snapshot, read it back consistently, and list
// non-terminal runs satisfies it. See internal/memstore for the ephemeral
// implementation and internal/filestore for the durable one.
package store

import (
	"context"
	"errors"

	"github.com/vk/flowgridgo/internal/graph"
	"github.com/vk/flowgridgo/internal/run"
)

var (
	// ErrNotFound is returned when a graph or run id has no durable record.
	ErrNotFound = errors.New("record not found")
	// ErrRevisionConflict is returned when a save does not carry the next
	// expected revision. It enforces the single-writer invariant at the
	// store boundary: a stale or concurrent writer loses.
	ErrRevisionConflict = errors.New("run revision conflict")
	// ErrCorrupt is returned when a durable record exists but cannot be
	// decoded. Recovery quarantines such runs instead of failing outright.
	ErrCorrupt = errors.New("record is corrupt")
)

// Gateway is the durable-store contract for graphs, run snapshots, and the
// append-only step audit log.
//
// Atomicity: SaveRun and SaveGraph are all-or-nothing replacements; a
// concurrent Load never observes a partially written record.
type Gateway interface {
	// SaveGraph persists a graph, assigning the next monotonically
	// increasing version for its id (starting at 1). The assigned version is
	// written back onto the graph and returned.
	SaveGraph(ctx context.Context, g *graph.Graph) (int, error)

	// LoadGraph reads one graph version. Version 0 means the latest.
	LoadGraph(ctx context.Context, id string, version int) (*graph.Graph, error)

	// SaveRun atomically replaces the run's snapshot. The state's Revision
	// must be exactly one greater than the stored revision (or 1 for a new
	// run); otherwise ErrRevisionConflict.
	SaveRun(ctx context.Context, state *run.State) error

	// LoadRun reads the latest snapshot for a run id.
	LoadRun(ctx context.Context, runID string) (*run.State, error)

	// ListIncompleteRuns returns the ids of all runs whose durable status is
	// non-terminal. Runs whose snapshots cannot be decoded are included, so
	// that recovery can observe and quarantine them.
	ListIncompleteRuns(ctx context.Context) ([]string, error)

	// AppendStep adds one record to the run's append-only step log. The log
	// is an audit trail keyed by (run, node, iteration); the authoritative
	// recovery source remains the run snapshot.
	AppendStep(ctx context.Context, runID string, result run.StepResult) error
}
