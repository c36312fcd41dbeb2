// Package recovery implements the startup procedure that rehydrates
// in-flight runs: every run whose durable status is non-terminal is handed
// back to the executor, which resumes the step algorithm from the persisted
// snapshot without re-invoking recorded steps. Runs whose snapshots cannot
// be decoded are quarantined and logged; recovery of the remaining runs
// proceeds unaffected.
package recovery

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/store"
)

// Resumer is the slice of the executor the manager needs.
type Resumer interface {
	Start(ctx context.Context, runID string) error
}

// Report summarizes one recovery pass.
type Report struct {
	Resumed     []string
	Quarantined []string
}

// Manager scans the persistence gateway for incomplete runs at startup.
type Manager struct {
	store       store.Gateway
	engine      Resumer
	concurrency int
}

// New creates a manager. Concurrency bounds how many runs are resumed in
// parallel; values below 1 select a default of 4.
func New(gw store.Gateway, engine Resumer, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Manager{store: gw, engine: engine, concurrency: concurrency}
}

// Recover lists all incomplete runs and resumes each under the executor.
// A corrupt snapshot quarantines that run id only; any other error aborts
// the pass.
func (m *Manager) Recover(ctx context.Context) (Report, error) {
	logger := ctxlog.FromContext(ctx)

	ids, err := m.store.ListIncompleteRuns(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(ids) == 0 {
		logger.Info("No incomplete runs to recover.")
		return Report{}, nil
	}
	logger.Info("🔁 Recovering incomplete runs.", "count", len(ids))

	var mu sync.Mutex
	var report Report

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, runID := range ids {
		g.Go(func() error {
			if _, err := m.store.LoadRun(gctx, runID); err != nil {
				if errors.Is(err, store.ErrCorrupt) {
					logger.Error("Quarantining unreadable run state.", "run_id", runID, "error", err)
					mu.Lock()
					report.Quarantined = append(report.Quarantined, runID)
					mu.Unlock()
					return nil
				}
				return err
			}

			if err := m.engine.Start(gctx, runID); err != nil {
				return err
			}
			logger.Info("Run resumed.", "run_id", runID)
			mu.Lock()
			report.Resumed = append(report.Resumed, runID)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Strings(report.Resumed)
	sort.Strings(report.Quarantined)
	return report, nil
}
