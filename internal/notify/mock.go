package notify

import (
	"context"
	"sync"
)

// MockDispatcher records events in memory. Used when NOTIFY_URL is not
// configured and throughout the tests.
type MockDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

func (d *MockDispatcher) Dispatch(_ context.Context, e Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

// Events returns a copy of everything dispatched so far.
func (d *MockDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Reset clears recorded events.
func (d *MockDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}
