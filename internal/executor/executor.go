// Package executor implements the run engine: the state machine that
// advances a run one step at a time, invoking tools through the registry and
// persisting a full snapshot after every completed step (write-ahead
// discipline). Each active run is owned by exactly one worker goroutine; the
// persistence gateway's revision check backs that invariant at the store
// boundary.
package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/eventing"
	"github.com/vk/flowgridgo/internal/run"
	"github.com/vk/flowgridgo/internal/store"
	"github.com/vk/flowgridgo/internal/tool"
)

// Options tune the engine. Zero values select the defaults.
type Options struct {
	// MaxStepsPerRun caps the total number of recorded steps in one run, as
	// a guard for loops that declare neither a bound nor a stop predicate.
	// Hitting the cap is a safe stop, not a failure.
	MaxStepsPerRun int
	// SaveAttempts bounds retries of a failing snapshot save.
	SaveAttempts int
	// SaveBackoff is the initial backoff between save retries; it doubles
	// per attempt.
	SaveBackoff time.Duration
}

const (
	defaultMaxStepsPerRun = 200
	defaultSaveAttempts   = 5
	defaultSaveBackoff    = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.MaxStepsPerRun <= 0 {
		o.MaxStepsPerRun = defaultMaxStepsPerRun
	}
	if o.SaveAttempts <= 0 {
		o.SaveAttempts = defaultSaveAttempts
	}
	if o.SaveBackoff <= 0 {
		o.SaveBackoff = defaultSaveBackoff
	}
	return o
}

// Engine creates, advances, and resumes runs. One Engine instance owns all
// active runs of the process.
type Engine struct {
	store store.Gateway
	tools *tool.Registry
	sink  eventing.Sink
	opts  Options

	mu     sync.Mutex
	active map[string]*runHandle
}

// runHandle tracks one owned run. The stop flag is the in-process half of
// cooperative cancellation, checked at the top of each step iteration.
type runHandle struct {
	runID string
	stop  atomic.Bool
	done  chan struct{}
}

// New creates an engine. A nil sink disables event publication.
func New(gw store.Gateway, tools *tool.Registry, sink eventing.Sink, opts Options) *Engine {
	if sink == nil {
		sink = eventing.NoopSink{}
	}
	return &Engine{
		store:  gw,
		tools:  tools,
		sink:   sink,
		opts:   opts.withDefaults(),
		active: make(map[string]*runHandle),
	}
}

// CreateRun creates a pending run against the latest version of the graph
// and persists its initial snapshot. The executor has not taken a step yet;
// callers follow up with Start or RunSync.
func (e *Engine) CreateRun(ctx context.Context, graphID string, initialContext map[string]any) (*run.State, error) {
	g, err := e.store.LoadGraph(ctx, graphID, 0)
	if err != nil {
		return nil, err
	}

	state := run.NewState(g.ID, g.Version, initialContext)
	state.Revision = 1
	if err := e.store.SaveRun(ctx, state); err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("Run created.",
		"run_id", state.RunID, "graph_id", g.ID, "graph_version", g.Version)
	return state.Clone(), nil
}

// Start begins or resumes execution of a run under a background worker and
// returns immediately. Starting an already-active or terminal run is a
// no-op.
func (e *Engine) Start(ctx context.Context, runID string) error {
	_, err := e.ensureWorker(ctx, runID)
	return err
}

// RunSync blocks until the run reaches a terminal status and returns its
// final snapshot. With timeout > 0 the wait is bounded; on expiry the
// current non-terminal snapshot is returned rather than an error.
func (e *Engine) RunSync(ctx context.Context, runID string, timeout time.Duration) (*run.State, error) {
	done, err := e.ensureWorker(ctx, runID)
	if err != nil {
		return nil, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
	case <-expired:
	case <-ctx.Done():
	}
	return e.store.LoadRun(ctx, runID)
}

// StopRun requests cooperative cancellation. A run inside a tool invocation
// completes that invocation first; the request is honored at the top of the
// next step iteration. Stopping a terminal run is an acknowledged no-op.
func (e *Engine) StopRun(ctx context.Context, runID string) error {
	e.mu.Lock()
	h, active := e.active[runID]
	e.mu.Unlock()
	if active {
		h.stop.Store(true)
		ctxlog.FromContext(ctx).Info("Cancellation requested for active run.", "run_id", runID)
		return nil
	}

	// The run has no worker here; record the request durably so the next
	// resume honors it. Retried on revision conflict in case a worker
	// appears concurrently.
	for attempt := 0; attempt < 3; attempt++ {
		state, err := e.store.LoadRun(ctx, runID)
		if err != nil {
			return err
		}
		if state.Status.Terminal() || state.CancelRequested {
			return nil
		}
		state.CancelRequested = true
		state.Revision++
		err = e.store.SaveRun(ctx, state)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrRevisionConflict) {
			return err
		}
	}

	// A concurrent writer kept winning; it is this engine's worker, so flag
	// it directly if it is registered by now.
	e.mu.Lock()
	h, active = e.active[runID]
	e.mu.Unlock()
	if active {
		h.stop.Store(true)
		return nil
	}
	return store.ErrRevisionConflict
}

// Active reports whether a worker currently owns the run.
func (e *Engine) Active(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[runID]
	return ok
}

// ensureWorker returns the done channel of the run's worker, launching one if
// the run is non-terminal and unowned. For terminal runs it returns a closed
// channel.
func (e *Engine) ensureWorker(ctx context.Context, runID string) (<-chan struct{}, error) {
	e.mu.Lock()
	if h, ok := e.active[runID]; ok {
		e.mu.Unlock()
		return h.done, nil
	}
	e.mu.Unlock()

	state, err := e.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		closed := make(chan struct{})
		close(closed)
		return closed, nil
	}

	g, err := e.store.LoadGraph(ctx, state.GraphID, state.GraphVersion)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if h, ok := e.active[runID]; ok {
		// Lost the race to another caller; their worker owns the run.
		e.mu.Unlock()
		return h.done, nil
	}
	h := &runHandle{runID: runID, done: make(chan struct{})}
	e.active[runID] = h
	e.mu.Unlock()

	// The worker outlives the caller's request context; it carries only the
	// caller's logger.
	workerCtx := ctxlog.WithLogger(context.Background(), ctxlog.FromContext(ctx))
	go e.runLoop(workerCtx, h, state, g)
	return h.done, nil
}

func (e *Engine) release(h *runHandle) {
	e.mu.Lock()
	delete(e.active, h.runID)
	e.mu.Unlock()
	close(h.done)
}

func (e *Engine) publish(ctx context.Context, event eventing.Event) {
	event.Timestamp = time.Now().UTC()
	if err := e.sink.Publish(ctx, event); err != nil {
		ctxlog.FromContext(ctx).Warn("Event publication failed.", "type", event.Type, "run_id", event.RunID, "error", err)
	}
}
