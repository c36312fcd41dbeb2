// Package eventing defines the run lifecycle event model and the sink
// contract through which the executor publishes progress. Publication is
// best-effort observability: a failing sink never affects a run's outcome.
package eventing

import (
	"context"
	"time"
)

// Event types emitted by the executor.
const (
	TypeRunStarted  = "run_started"
	TypeRunResumed  = "run_resumed"
	TypeStepDone    = "step_completed"
	TypeStepFailed  = "step_failed"
	TypeRunFinished = "run_finished"
)

// Event is one run lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives run lifecycle events.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopSink discards all events. It is the default when no collector is
// configured.
type NoopSink struct{}

// Publish implements Sink.
func (NoopSink) Publish(ctx context.Context, event Event) error { return nil }

// Close implements Sink.
func (NoopSink) Close() error { return nil }
