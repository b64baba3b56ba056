package sinks

import (
	"context"
	"sync"

	"rxsim/logging"
)

// Memory collects events for assertions in tests.
type Memory struct {
	mu     sync.Mutex
	events []logging.Event
}

// NewMemory constructs an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{events: make([]logging.Event, 0)}
}

// Write satisfies logging.Sink.
func (m *Memory) Write(event logging.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := event
	copied.Extra = cloneExtra(event.Extra)
	m.events = append(m.events, copied)
	return nil
}

// cloneExtra copies an Event's Extra map so a sink's retained copy can't be
// mutated through the caller's reference. Shared by Memory and JSONSink.
func cloneExtra(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	copied := make(map[string]any, len(extra))
	for k, v := range extra {
		copied[k] = v
	}
	return copied
}

// Close satisfies logging.Sink.
func (m *Memory) Close(context.Context) error { return nil }

// Events returns a snapshot of collected events.
func (m *Memory) Events() []logging.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]logging.Event, len(m.events))
	copy(copied, m.events)
	return copied
}
