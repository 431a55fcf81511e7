package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishUsageEvent publishes a usage event. The event ID doubles as the
// JetStream message ID so redeliveries from a retrying publisher are deduplicated.
func (p *Publisher) PublishUsageEvent(ctx context.Context, event UsageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", SubjectUsageEvent, err)
	}
	var opts []jetstream.PublishOpt
	if event.ID != "" {
		opts = append(opts, jetstream.WithMsgID(event.ID))
	}
	if _, err := p.js.Publish(ctx, SubjectUsageEvent, payload, opts...); err != nil {
		return fmt.Errorf("publishing to %s: %w", SubjectUsageEvent, err)
	}
	return nil
}
