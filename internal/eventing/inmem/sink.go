// Package inmem provides a recording eventing.Sink for tests and local
// debugging.
package inmem

import (
	"context"
	"sync"

	"github.com/vk/flowgridgo/internal/eventing"
)

// Sink records every published event in order.
type Sink struct {
	mu     sync.Mutex
	events []eventing.Event
	closed bool
}

// New creates an empty recording sink.
func New() *Sink {
	return &Sink{}
}

var _ eventing.Sink = (*Sink)(nil)

// Publish appends the event to the in-memory log.
func (s *Sink) Publish(ctx context.Context, event eventing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Close marks the sink closed; further events are still accepted so tests
// never race shutdown against late publishes.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a copy of the recorded events.
func (s *Sink) Events() []eventing.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventing.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns recorded events of one type, in publication order.
func (s *Sink) ByType(eventType string) []eventing.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventing.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
