// Package notify publishes change events to downstream consumers.
// Publishing is strictly best effort: a failed publish is logged and
// counted, never surfaced to the upsert that triggered it.
package notify

import (
	"context"
	"time"
)

// Event describes one detected record change.
type Event struct {
	Kind          string    `json:"kind"`
	EntityID      string    `json:"entity_id"`
	Site          string    `json:"site"`
	Key           string    `json:"key"`
	PreviousHash  string    `json:"previous_hash"`
	NewHash       string    `json:"new_hash"`
	ChangedFields []string  `json:"changed_fields"`
	At            time.Time `json:"at"`
}

// Publisher delivers change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop discards every event. It stands in when notifications are
// disabled.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Close() error { return nil }
