// Package memory records change events in memory for tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/venturescope/scraperd/internal/notify"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []notify.Event
	closed bool
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event. Publishing after Close fails, matching
// the behavior of the real backends.
func (p *Publisher) Publish(_ context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("memory: publisher closed")
	}
	p.events = append(p.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []notify.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]notify.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close marks the publisher closed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
