package run

import (
	"time"

	"github.com/google/uuid"
)

// StepResult is the durable record of one node execution attempt. Failed
// attempts are recorded too, with Error set, so the step log is a complete
// audit of what the executor actually invoked.
type StepResult struct {
	NodeID    string         `json:"node_id"`
	Iteration int            `json:"iteration"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// State is the durable, mutable record of a run's progress. GraphVersion is
// fixed at creation; the engine never re-resolves a run against a newer graph
// edit. Revision implements optimistic concurrency at the persistence
// gateway: the owning worker increments it before every save, and the store
// rejects saves that would skip or repeat a revision.
type State struct {
	RunID           string         `json:"run_id"`
	GraphID         string         `json:"graph_id"`
	GraphVersion    int            `json:"graph_version"`
	Status          Status         `json:"status"`
	CurrentNode     string         `json:"current_node,omitempty"`
	IterationCounts map[string]int `json:"iteration_counts"`
	Context         map[string]any `json:"context"`
	StepLog         []StepResult   `json:"step_log"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	Revision        int            `json:"revision"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewState creates a pending run against a specific graph version. The
// initial context is deep-copied so callers cannot mutate it afterwards.
func NewState(graphID string, graphVersion int, initialContext map[string]any) *State {
	now := time.Now().UTC()
	return &State{
		RunID:           uuid.NewString(),
		GraphID:         graphID,
		GraphVersion:    graphVersion,
		Status:          StatusPending,
		IterationCounts: make(map[string]int),
		Context:         deepCopyMap(initialContext),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Transition moves the run to the next status, enforcing the monotonic state
// machine. Terminal states admit no exit.
func (s *State) Transition(next Status) error {
	if !s.Status.CanTransition(next) {
		return transitionError(s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendStep records one execution attempt, keeping the iteration counter in
// lockstep with the step log: iteration counts equal the number of recorded
// StepResults per node, and iterations are contiguous from 1.
func (s *State) AppendStep(result StepResult) {
	s.IterationCounts[result.NodeID]++
	result.Iteration = s.IterationCounts[result.NodeID]
	s.StepLog = append(s.StepLog, result)
	s.CurrentNode = result.NodeID
	s.UpdatedAt = time.Now().UTC()
}

// MergeContext overlays a tool's output onto the run context.
func (s *State) MergeContext(output map[string]any) {
	if s.Context == nil {
		s.Context = make(map[string]any, len(output))
	}
	for k, v := range output {
		s.Context[k] = v
	}
}

// Steps returns the recorded StepResults for one node, in execution order.
func (s *State) Steps(nodeID string) []StepResult {
	var out []StepResult
	for _, r := range s.StepLog {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// Clone produces a deep copy of the state so that snapshots handed out by
// stores or the API can never alias the worker's mutable record.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.IterationCounts = make(map[string]int, len(s.IterationCounts))
	for k, v := range s.IterationCounts {
		out.IterationCounts[k] = v
	}
	out.Context = deepCopyMap(s.Context)
	out.StepLog = make([]StepResult, len(s.StepLog))
	for i, r := range s.StepLog {
		r.Output = deepCopyMap(r.Output)
		out.StepLog[i] = r
	}
	return &out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
