// Package pubsub publishes change events to a Google Cloud Pub/Sub
// topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/notify"
)

// Config identifies the destination topic.
type Config struct {
	ProjectID string
	TopicID   string
}

// Publisher sends change events to one Pub/Sub topic. The client
// batches and retries in the background; Publish waits for the server
// ack so delivery failures surface to the caller's log.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    *zap.Logger
}

// New connects to Pub/Sub and verifies the topic exists. Auth comes
// from Application Default Credentials.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if cerr := client.Close(); cerr != nil {
			log.Warn("closing pubsub client after topic check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		if cerr := client.Close(); cerr != nil {
			log.Warn("closing pubsub client after missing topic", zap.Error(cerr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	return &Publisher{client: client, topic: topic, log: log}, nil
}

// Publish marshals the event to JSON and sends it with kind and site
// attributes for subscriber-side filtering.
func (p *Publisher) Publish(ctx context.Context, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind": ev.Kind,
			"site": ev.Site,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	p.log.Debug("published change event",
		zap.String("message_id", id),
		zap.String("kind", ev.Kind),
		zap.String("key", ev.Key))
	return nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
