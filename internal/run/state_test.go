package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMachine(t *testing.T) {
	t.Run("legal path to completion", func(t *testing.T) {
		s := NewState("g", 1, nil)
		require.NoError(t, s.Transition(StatusRunning))
		require.NoError(t, s.Transition(StatusWaiting))
		require.NoError(t, s.Transition(StatusRunning))
		require.NoError(t, s.Transition(StatusCompleted))
		assert.True(t, s.Status.Terminal())
	})

	t.Run("terminal states admit no exit", func(t *testing.T) {
		for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusStopped} {
			s := &State{Status: terminal}
			err := s.Transition(StatusRunning)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, terminal, s.Status)
		}
	})

	t.Run("pending cannot jump to terminal", func(t *testing.T) {
		s := NewState("g", 1, nil)
		assert.ErrorIs(t, s.Transition(StatusCompleted), ErrInvalidTransition)
		assert.Equal(t, StatusPending, s.Status)
	})

	t.Run("waiting can only return to running", func(t *testing.T) {
		assert.True(t, StatusWaiting.CanTransition(StatusRunning))
		assert.False(t, StatusWaiting.CanTransition(StatusCompleted))
		assert.False(t, StatusWaiting.CanTransition(StatusFailed))
	})
}

func TestNewState(t *testing.T) {
	initial := map[string]any{"data": []any{float64(1), nil}}
	s := NewState("quality", 3, initial)

	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, "quality", s.GraphID)
	assert.Equal(t, 3, s.GraphVersion)
	assert.Equal(t, StatusPending, s.Status)
	assert.Empty(t, s.StepLog)
	assert.Equal(t, 0, s.Revision)

	// The initial context is copied, not aliased.
	initial["data"] = "mutated"
	assert.Equal(t, []any{float64(1), nil}, s.Context["data"])

	other := NewState("quality", 3, nil)
	assert.NotEqual(t, s.RunID, other.RunID)
}

func TestAppendStep(t *testing.T) {
	s := NewState("g", 1, nil)

	s.AppendStep(StepResult{NodeID: "a", Output: map[string]any{"n": float64(1)}})
	s.AppendStep(StepResult{NodeID: "a", Error: "tool exploded"})
	s.AppendStep(StepResult{NodeID: "b"})

	require.Len(t, s.StepLog, 3)
	assert.Equal(t, 1, s.StepLog[0].Iteration)
	assert.Equal(t, 2, s.StepLog[1].Iteration)
	assert.Equal(t, 1, s.StepLog[2].Iteration)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, s.IterationCounts)
	assert.Equal(t, "b", s.CurrentNode)

	// Failed attempts count as iterations too.
	assert.Equal(t, "tool exploded", s.StepLog[1].Error)

	steps := s.Steps("a")
	require.Len(t, steps, 2)
	assert.Equal(t, []int{1, 2}, []int{steps[0].Iteration, steps[1].Iteration})
	assert.Empty(t, s.Steps("dne"))
}

func TestMergeContext(t *testing.T) {
	s := NewState("g", 1, map[string]any{"keep": "me", "old": float64(1)})
	s.MergeContext(map[string]any{"old": float64(2), "new": "value"})

	assert.Equal(t, "me", s.Context["keep"])
	assert.Equal(t, float64(2), s.Context["old"])
	assert.Equal(t, "value", s.Context["new"])
}

func TestClone(t *testing.T) {
	s := NewState("g", 1, map[string]any{
		"nested": map[string]any{"list": []any{float64(1)}},
	})
	s.AppendStep(StepResult{NodeID: "a", Output: map[string]any{"x": float64(5)}})

	c := s.Clone()
	require.Equal(t, s.RunID, c.RunID)
	require.Equal(t, s.StepLog, c.StepLog)

	// Mutating the clone must never leak into the original.
	c.IterationCounts["a"] = 99
	c.Context["nested"].(map[string]any)["list"].([]any)[0] = float64(7)
	c.StepLog[0].Output["x"] = float64(9)

	assert.Equal(t, 1, s.IterationCounts["a"])
	assert.Equal(t, float64(1), s.Context["nested"].(map[string]any)["list"].([]any)[0])
	assert.Equal(t, float64(5), s.StepLog[0].Output["x"])

	var nilState *State
	assert.Nil(t, nilState.Clone())
}
