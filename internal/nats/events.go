package nats

import "time"

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "WIDGETLY_EVENTS"
)

// Subject constants.
const (
	SubjectEventsAll  = "widgetly.events.>"
	SubjectUsageEvent = "widgetly.events.usage"
)

// Usage event types.
const (
	UsageEventLimitExceeded = "limit_exceeded"
	UsageEventCountersReset = "counters_reset"
)

// UsageEvent is published when an entity hits a limit or its period counters roll over.
type UsageEvent struct {
	ID         string    `json:"id"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	EventType  string    `json:"event_type"`
	Code       string    `json:"code,omitempty"`
	Plan       string    `json:"plan,omitempty"`
	Used       int64     `json:"used,omitempty"`
	Limit      int64     `json:"limit,omitempty"`
	DayReset   bool      `json:"day_reset,omitempty"`
	MonthReset bool      `json:"month_reset,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
