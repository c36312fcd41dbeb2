package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowgridgo/internal/executor"
	"github.com/vk/flowgridgo/internal/graph"
	"github.com/vk/flowgridgo/internal/memstore"
	"github.com/vk/flowgridgo/internal/run"
	"github.com/vk/flowgridgo/internal/store"
	"github.com/vk/flowgridgo/internal/tool"
)

// corruptingGateway marks selected run ids as unreadable, the in-memory
// equivalent of a torn snapshot on disk.
type corruptingGateway struct {
	store.Gateway
	corrupt map[string]bool
}

func (c *corruptingGateway) LoadRun(ctx context.Context, runID string) (*run.State, error) {
	if c.corrupt[runID] {
		return nil, fmt.Errorf("%w: run %s: invalid character", store.ErrCorrupt, runID)
	}
	return c.Gateway.LoadRun(ctx, runID)
}

// recordingResumer captures Start calls without running anything.
type recordingResumer struct {
	mu      sync.Mutex
	started []string
	fail    map[string]error
}

func (r *recordingResumer) Start(ctx context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[runID]; err != nil {
		return err
	}
	r.started = append(r.started, runID)
	return nil
}

func (r *recordingResumer) startedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.started))
	copy(out, r.started)
	return out
}

func saveRun(t *testing.T, gw store.Gateway, status run.Status) string {
	t.Helper()
	state := run.NewState("g", 1, nil)
	state.Status = status
	state.Revision = 1
	require.NoError(t, gw.SaveRun(context.Background(), state))
	return state.RunID
}

func TestRecoverResumesIncompleteRuns(t *testing.T) {
	gw := memstore.New()
	running := saveRun(t, gw, run.StatusRunning)
	pending := saveRun(t, gw, run.StatusPending)
	saveRun(t, gw, run.StatusCompleted)
	saveRun(t, gw, run.StatusStopped)

	resumer := &recordingResumer{}
	report, err := New(gw, resumer, 2).Recover(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{running, pending}, report.Resumed)
	assert.Empty(t, report.Quarantined)
	assert.ElementsMatch(t, []string{running, pending}, resumer.startedIDs())
}

func TestRecoverQuarantinesCorruptRuns(t *testing.T) {
	backing := memstore.New()
	healthy := saveRun(t, backing, run.StatusRunning)
	broken := saveRun(t, backing, run.StatusRunning)

	gw := &corruptingGateway{Gateway: backing, corrupt: map[string]bool{broken: true}}
	resumer := &recordingResumer{}

	report, err := New(gw, resumer, 2).Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{healthy}, resumer.startedIDs())
	assert.Equal(t, []string{healthy}, report.Resumed)
	assert.Equal(t, []string{broken}, report.Quarantined)
}

func TestRecoverPropagatesResumeErrors(t *testing.T) {
	gw := memstore.New()
	id := saveRun(t, gw, run.StatusRunning)

	resumeErr := errors.New("engine unavailable")
	resumer := &recordingResumer{fail: map[string]error{id: resumeErr}}

	_, err := New(gw, resumer, 2).Recover(context.Background())
	assert.ErrorIs(t, err, resumeErr)
}

func TestRecoverEmptyStore(t *testing.T) {
	report, err := New(memstore.New(), &recordingResumer{}, 0).Recover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Resumed)
	assert.Empty(t, report.Quarantined)
}

func TestRecoverDrivesRealEngineToCompletion(t *testing.T) {
	gw := memstore.New()
	registry := tool.New()
	registry.Register("finish", tool.Func(func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"finished": true}, nil
	}))

	g := &graph.Graph{
		ID:        "restartable",
		StartNode: "only",
		Nodes:     map[string]*graph.Node{"only": {Tool: "finish"}},
	}
	require.NoError(t, g.Validate())
	ctx := context.Background()
	_, err := gw.SaveGraph(ctx, g)
	require.NoError(t, err)

	// Simulate a run the previous process left mid-flight.
	engine := executor.New(gw, registry, nil, executor.Options{SaveBackoff: time.Millisecond})
	state, err := engine.CreateRun(ctx, "restartable", nil)
	require.NoError(t, err)

	report, err := New(gw, engine, 2).Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{state.RunID}, report.Resumed)

	require.Eventually(t, func() bool {
		loaded, err := gw.LoadRun(ctx, state.RunID)
		return err == nil && loaded.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)

	final, err := gw.LoadRun(ctx, state.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, final.Status)
	assert.Equal(t, true, final.Context["finished"])
}
