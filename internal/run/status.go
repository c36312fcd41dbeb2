package run

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusPending is assigned at creation, before the executor's first step.
	StatusPending Status = "pending"
	// StatusRunning means an executor worker is advancing the run.
	StatusRunning Status = "running"
	// StatusWaiting means the run is blocked inside an external tool
	// invocation. It is an in-memory phase only: snapshots are written after
	// a step fully completes, so a durable status is never "waiting".
	StatusWaiting Status = "waiting"
	// StatusCompleted means the graph ran out of eligible edges.
	StatusCompleted Status = "completed"
	// StatusFailed means a tool invocation failed with retries exhausted.
	StatusFailed Status = "failed"
	// StatusStopped is the safe stop: a stop predicate held, an iteration
	// bound was reached, or a cancellation request was honored.
	StatusStopped Status = "stopped"
)

// ErrInvalidTransition is returned for a status change the machine forbids,
// including any transition out of a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusWaiting, StatusCompleted, StatusFailed, StatusStopped},
	StatusWaiting: {StatusRunning},
}

// CanTransition reports whether the machine permits moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
