package executor

import (
	"context"
	"errors"
	"time"

	"github.com/vk/flowgridgo/internal/condition"
	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/eventing"
	"github.com/vk/flowgridgo/internal/graph"
	"github.com/vk/flowgridgo/internal/run"
	"github.com/vk/flowgridgo/internal/store"
)

// stepOutcome summarizes one node invocation round, including its retries.
type stepOutcome int

const (
	// stepOK: a StepResult was recorded and the run keeps advancing.
	stepOK stepOutcome = iota
	// stepFailed: retries exhausted; the run is durably failed.
	stepFailed
	// stepAbandoned: the snapshot could not be persisted; the worker exits
	// and the run stays at its last durable state for a later recovery pass.
	stepAbandoned
)

// runLoop is the worker body for one run. It executes the step algorithm
// under the single-writer invariant until a terminal status or abandonment.
func (e *Engine) runLoop(ctx context.Context, h *runHandle, state *run.State, g *graph.Graph) {
	logger := ctxlog.FromContext(ctx).With("run_id", state.RunID, "graph_id", state.GraphID, "graph_version", state.GraphVersion)
	ctx = ctxlog.WithLogger(ctx, logger)
	defer e.release(h)

	resumed := len(state.StepLog) > 0

	// A durable snapshot is only ever written after a step fully completes,
	// so a loaded "waiting" status has no in-flight tool call behind it.
	// Normalize and treat the run as about to take its next step.
	if state.Status == run.StatusWaiting {
		state.Status = run.StatusRunning
	}

	if state.Status == run.StatusPending {
		if err := state.Transition(run.StatusRunning); err != nil {
			logger.Error("Run in unexpected state at start.", "status", state.Status, "error", err)
			return
		}
		if !e.persist(ctx, state) {
			return
		}
	}

	startType := eventing.TypeRunStarted
	if resumed {
		startType = eventing.TypeRunResumed
	}
	e.publish(ctx, eventing.Event{Type: startType, RunID: state.RunID, Status: string(state.Status)})
	logger.Info("▶️ Run advancing.", "steps_recorded", len(state.StepLog))

	for {
		// Cooperative cancellation, honored only between steps.
		if h.stop.Load() || state.CancelRequested {
			logger.Info("🛑 Cancellation honored.")
			e.finish(ctx, state, run.StatusStopped)
			return
		}

		if len(state.StepLog) >= e.opts.MaxStepsPerRun {
			logger.Warn("🛑 Step cap reached; stopping run safely.", "cap", e.opts.MaxStepsPerRun)
			e.finish(ctx, state, run.StatusStopped)
			return
		}

		nodeID, ok := e.nextNode(ctx, g, state)
		if !ok {
			logger.Info("🏁 No eligible outgoing edges; run complete.")
			e.finish(ctx, state, run.StatusCompleted)
			return
		}
		node := g.Nodes[nodeID]

		if node.Loop != nil && node.Loop.MaxIterations > 0 &&
			state.IterationCounts[nodeID] >= node.Loop.MaxIterations {
			logger.Info("🛑 Iteration bound reached; stopping run safely.",
				"node", nodeID, "bound", node.Loop.MaxIterations)
			e.finish(ctx, state, run.StatusStopped)
			return
		}

		switch e.invokeNode(ctx, state, node) {
		case stepAbandoned:
			return
		case stepFailed:
			e.publish(ctx, eventing.Event{Type: eventing.TypeRunFinished, RunID: state.RunID, Status: string(state.Status)})
			return
		}

		if e.stopPredicateHolds(ctx, state, node) {
			logger.Info("🛑 Stop predicate satisfied; stopping run safely.", "node", nodeID)
			e.finish(ctx, state, run.StatusStopped)
			return
		}
	}
}

// nextNode selects the next eligible node: the start node if the run has not
// stepped yet, otherwise the destination of the first outgoing edge (in
// declaration order) whose condition holds against the run context. An edge
// condition that fails to evaluate is treated as not eligible, matching the
// "missing metric means false" behavior of condition predicates.
func (e *Engine) nextNode(ctx context.Context, g *graph.Graph, state *run.State) (string, bool) {
	if state.CurrentNode == "" {
		return g.StartNode, true
	}

	logger := ctxlog.FromContext(ctx)
	for _, edge := range g.OutgoingEdges(state.CurrentNode) {
		if edge.When == "" {
			return edge.To, true
		}
		pred, err := condition.Compile(edge.When)
		if err != nil {
			// Validation compiles every condition at graph creation, so this
			// only fires for records written by an older, laxer build.
			logger.Warn("Edge condition no longer compiles; edge not eligible.", "from", edge.From, "to", edge.To, "error", err)
			continue
		}
		holds, err := pred.Eval(condition.Variables(state.Context))
		if err != nil {
			logger.Debug("Edge condition not satisfiable against current context.", "from", edge.From, "to", edge.To, "error", err)
			continue
		}
		if holds {
			return edge.To, true
		}
	}
	return "", false
}

// invokeNode runs one node's tool with bounded immediate retries, recording
// every attempt in the step log and persisting after each one so that no
// recorded attempt is ever re-invoked after a crash.
func (e *Engine) invokeNode(ctx context.Context, state *run.State, node *graph.Node) stepOutcome {
	logger := ctxlog.FromContext(ctx).With("node", node.ID, "tool", node.Tool)

	attempts := 1
	if node.Retry != nil {
		attempts += node.Retry.MaxRetries
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		args := mergeArgs(state.Context, node.Params)

		// The run is blocked on an external capability for the duration of
		// the call. Waiting is an in-memory phase: no snapshot is written
		// until the step completes.
		if err := state.Transition(run.StatusWaiting); err != nil {
			logger.Error("Run left the running state unexpectedly.", "error", err)
			return stepAbandoned
		}
		logger.Info("▶️ Invoking tool.", "attempt", attempt, "iteration", state.IterationCounts[node.ID]+1)
		output, invokeErr := e.tools.Invoke(ctx, node.Tool, args)
		if err := state.Transition(run.StatusRunning); err != nil {
			logger.Error("Run left the waiting state unexpectedly.", "error", err)
			return stepAbandoned
		}

		if invokeErr == nil {
			state.AppendStep(run.StepResult{
				NodeID:    node.ID,
				Output:    output,
				Timestamp: time.Now().UTC(),
			})
			state.MergeContext(output)
			e.appendAudit(ctx, state)
			if !e.persist(ctx, state) {
				return stepAbandoned
			}
			e.publish(ctx, eventing.Event{
				Type:      eventing.TypeStepDone,
				RunID:     state.RunID,
				NodeID:    node.ID,
				Iteration: state.IterationCounts[node.ID],
			})
			logger.Info("✅ Step recorded.", "iteration", state.IterationCounts[node.ID])
			return stepOK
		}

		state.AppendStep(run.StepResult{
			NodeID:    node.ID,
			Error:     invokeErr.Error(),
			Timestamp: time.Now().UTC(),
		})
		e.appendAudit(ctx, state)
		e.publish(ctx, eventing.Event{
			Type:      eventing.TypeStepFailed,
			RunID:     state.RunID,
			NodeID:    node.ID,
			Iteration: state.IterationCounts[node.ID],
			Error:     invokeErr.Error(),
		})

		if attempt == attempts {
			logger.Error("Tool invocation failed with retries exhausted.", "attempts", attempts, "error", invokeErr)
			state.FailureReason = invokeErr.Error()
			if err := state.Transition(run.StatusFailed); err != nil {
				logger.Error("Could not mark run failed.", "error", err)
				return stepAbandoned
			}
			if !e.persist(ctx, state) {
				return stepAbandoned
			}
			return stepFailed
		}

		logger.Warn("Tool invocation failed; retrying immediately.", "attempt", attempt, "error", invokeErr)
		if !e.persist(ctx, state) {
			return stepAbandoned
		}
	}
	return stepAbandoned
}

// stopPredicateHolds evaluates the node's Until predicate with the run
// context plus the node's iteration count. Evaluation failure means the
// predicate does not hold.
func (e *Engine) stopPredicateHolds(ctx context.Context, state *run.State, node *graph.Node) bool {
	if node.Loop == nil || node.Loop.Until == "" {
		return false
	}

	logger := ctxlog.FromContext(ctx)
	pred, err := condition.Compile(node.Loop.Until)
	if err != nil {
		logger.Warn("Stop predicate no longer compiles; ignoring.", "node", node.ID, "error", err)
		return false
	}
	holds, err := pred.Eval(condition.WithIteration(state.Context, state.IterationCounts[node.ID]))
	if err != nil {
		logger.Debug("Stop predicate not satisfiable against current context.", "node", node.ID, "error", err)
		return false
	}
	return holds
}

// finish transitions the run to a terminal status and persists it.
func (e *Engine) finish(ctx context.Context, state *run.State, status run.Status) {
	logger := ctxlog.FromContext(ctx)
	if err := state.Transition(status); err != nil {
		logger.Error("Could not reach terminal status.", "status", status, "error", err)
		return
	}
	if !e.persist(ctx, state) {
		return
	}
	e.publish(ctx, eventing.Event{Type: eventing.TypeRunFinished, RunID: state.RunID, Status: string(status)})
}

// persist writes the snapshot with bounded backoff. Write-ahead discipline:
// the caller must not begin another tool invocation until this returns true.
// On exhaustion the run is left at its last durable snapshot (never marked
// failed for a store outage) and the worker abandons it for a later recovery
// pass.
func (e *Engine) persist(ctx context.Context, state *run.State) bool {
	logger := ctxlog.FromContext(ctx)
	state.Revision++

	backoff := e.opts.SaveBackoff
	var err error
	for attempt := 1; attempt <= e.opts.SaveAttempts; attempt++ {
		err = e.store.SaveRun(ctx, state)
		if err == nil {
			return true
		}
		if errors.Is(err, store.ErrRevisionConflict) {
			// Another writer holds the run; this worker must not fight it.
			break
		}
		logger.Warn("Snapshot save failed; backing off.", "attempt", attempt, "error", err)
		time.Sleep(backoff)
		backoff *= 2
	}

	logger.Error("Abandoning run advancement; last durable snapshot stands.", "run_id", state.RunID, "error", err)
	return false
}

// appendAudit records the newest step in the gateway's append-only log. The
// audit trail is best-effort; the snapshot remains the recovery source.
func (e *Engine) appendAudit(ctx context.Context, state *run.State) {
	latest := state.StepLog[len(state.StepLog)-1]
	if err := e.store.AppendStep(ctx, state.RunID, latest); err != nil {
		ctxlog.FromContext(ctx).Warn("Step audit append failed.", "run_id", state.RunID, "node", latest.NodeID, "error", err)
	}
}

// mergeArgs overlays node parameters onto a copy of the run context;
// parameters win on key collisions.
func mergeArgs(runContext, params map[string]any) map[string]any {
	args := make(map[string]any, len(runContext)+len(params))
	for k, v := range runContext {
		args[k] = v
	}
	for k, v := range params {
		args[k] = v
	}
	return args
}
