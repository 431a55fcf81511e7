package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/widgetly-platform/widgetly/internal/nats"
)

const consumerName = "usage-event-persister"

// Inserter persists converted usage events.
type Inserter interface {
	Insert(ctx context.Context, log *UsageLog) error
}

// fetchRetryDelay is the pause after a failed fetch, so a closed or
// reconnecting NATS connection is not polled in a tight loop.
const fetchRetryDelay = time.Second

// Consumer listens on the usage event subject and persists entries to the database.
type Consumer struct {
	repo        Inserter
	consumerMgr *inats.ConsumerManager
	retryDelay  time.Duration
}

// NewConsumer creates a new usage event Consumer.
func NewConsumer(repo Inserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
		retryDelay:  fetchRetryDelay,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.ConsumerSpec{
		Stream:        inats.StreamEvents,
		Durable:       consumerName,
		FilterSubject: inats.SubjectUsageEvent,
	})
	if err != nil {
		return err
	}

	slog.Info("usage event consumer started", "consumer", consumerName)

	return c.consume(ctx, func() (jetstream.MessageBatch, error) {
		return consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
	})
}

func (c *Consumer) consume(ctx context.Context, fetch func() (jetstream.MessageBatch, error)) error {
	for {
		msgs, err := fetch()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("usage event consumer: fetching events", "error", err, "retry_in", c.retryDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		for msg := range msgs.Messages() {
			c.handle(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	var event inats.UsageEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("usage event consumer: unmarshaling event", "error", err)
		// Malformed payloads will never parse; drop them instead of redelivering.
		_ = msg.Term()
		return
	}

	if err := c.repo.Insert(ctx, EventToLog(event)); err != nil {
		slog.Error("usage event consumer: persisting event", "error", err, "event_type", event.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("usage event consumer: persisted event",
		"event_type", event.EventType,
		"entity_kind", event.EntityKind,
		"entity_id", event.EntityID,
	)
}

// EventToLog converts a published usage event into its database row.
func EventToLog(event inats.UsageEvent) *UsageLog {
	log := &UsageLog{
		ID:         uuid.New(),
		EntityKind: event.EntityKind,
		EntityID:   event.EntityID,
		EventType:  event.EventType,
		Code:       event.Code,
		Plan:       event.Plan,
		CreatedAt:  event.Timestamp,
	}

	// Reuse the publisher's ID so redelivered messages hit ON CONFLICT.
	if parsed, err := uuid.Parse(event.ID); err == nil {
		log.ID = parsed
	}

	details := map[string]any{}
	switch event.EventType {
	case inats.UsageEventLimitExceeded:
		details["used"] = event.Used
		details["limit"] = event.Limit
	case inats.UsageEventCountersReset:
		details["day_reset"] = event.DayReset
		details["month_reset"] = event.MonthReset
	}
	if data, err := json.Marshal(details); err == nil {
		log.Details = data
	}

	return log
}
