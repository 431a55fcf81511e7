package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UsageLog matches the usage_events table schema.
type UsageLog struct {
	ID         uuid.UUID       `json:"id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	EventType  string          `json:"event_type"`
	Code       string          `json:"code,omitempty"`
	Plan       string          `json:"plan,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for usage event queries.
type ListParams struct {
	EventType string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// DefaultListParams returns the first page of 20 entries, unfiltered.
func DefaultListParams() ListParams {
	return ListParams{Page: 1, PageSize: 20}
}
