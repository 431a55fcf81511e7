package usage

import (
	"fmt"
	"time"
)

// EntityKind distinguishes the two billable entities that carry counters.
type EntityKind string

const (
	KindClient EntityKind = "client"
	KindTenant EntityKind = "tenant"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == KindClient || k == KindTenant
}

// EntityKey identifies one usage counter.
type EntityKey struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// Counter matches the usage_counters table schema.
type Counter struct {
	Key                  EntityKey `json:"entity"`
	TenantID             string    `json:"tenant_id,omitempty"` // owner of a client counter
	Plan                 string    `json:"plan"`
	Timezone             string    `json:"timezone"`
	TotalMessages        int64     `json:"total_messages"`
	TotalSessions        int64     `json:"total_sessions"`
	CurrentDayMessages   int64     `json:"current_day_messages"`
	CurrentMonthMessages int64     `json:"current_month_messages"`
	CurrentMonthSessions int64     `json:"current_month_sessions"`
	LastDayReset         time.Time `json:"last_day_reset"`
	LastMonthReset       time.Time `json:"last_month_reset"`
	LastActive           time.Time `json:"last_active,omitempty"`
	Version              int64     `json:"version"`
}

// NewCounter returns a zeroed counter for a freshly provisioned entity.
func NewCounter(key EntityKey, plan, timezone string, now time.Time) *Counter {
	if plan == "" {
		plan = DefaultPlan(key.Kind)
	}
	if timezone == "" {
		timezone = "UTC"
	}
	return &Counter{
		Key:            key,
		Plan:           plan,
		Timezone:       timezone,
		LastDayReset:   now,
		LastMonthReset: now,
	}
}

// Location resolves the counter's day-reset timezone, falling back to UTC
// when the stored name is empty or unknown.
func (c *Counter) Location() *time.Location {
	return LoadLocation(c.Timezone)
}

// Field names accepted by Store.IncrementFields.
const (
	FieldTotalMessages        = "total_messages"
	FieldTotalSessions        = "total_sessions"
	FieldCurrentDayMessages   = "current_day_messages"
	FieldCurrentMonthMessages = "current_month_messages"
	FieldCurrentMonthSessions = "current_month_sessions"
)

var incrementableFields = map[string]bool{
	FieldTotalMessages:        true,
	FieldTotalSessions:        true,
	FieldCurrentDayMessages:   true,
	FieldCurrentMonthMessages: true,
	FieldCurrentMonthSessions: true,
}

// Deltas maps counter field names to the amount they advance by.
type Deltas map[string]int64

func (d Deltas) validate() error {
	if len(d) == 0 {
		return fmt.Errorf("empty increment")
	}
	for field, delta := range d {
		if !incrementableFields[field] {
			return fmt.Errorf("field %q is not incrementable", field)
		}
		if delta < 0 {
			return fmt.Errorf("negative delta %d for %q", delta, field)
		}
	}
	return nil
}

var (
	messageDeltas = Deltas{
		FieldTotalMessages:        1,
		FieldCurrentDayMessages:   1,
		FieldCurrentMonthMessages: 1,
	}
	sessionDeltas = Deltas{
		FieldTotalSessions:        1,
		FieldCurrentMonthSessions: 1,
	}
)

// apply adds d to c in place. Used by in-process stores and tests.
func (d Deltas) apply(c *Counter) {
	for field, delta := range d {
		switch field {
		case FieldTotalMessages:
			c.TotalMessages += delta
		case FieldTotalSessions:
			c.TotalSessions += delta
		case FieldCurrentDayMessages:
			c.CurrentDayMessages += delta
		case FieldCurrentMonthMessages:
			c.CurrentMonthMessages += delta
		case FieldCurrentMonthSessions:
			c.CurrentMonthSessions += delta
		}
	}
}

// Status is the API view of a counter with its active limits.
type Status struct {
	Entity               EntityKey `json:"entity"`
	TenantID             string    `json:"tenant_id,omitempty"`
	Plan                 string    `json:"plan"`
	Timezone             string    `json:"timezone"`
	TotalMessages        int64     `json:"total_messages"`
	TotalSessions        int64     `json:"total_sessions"`
	CurrentDayMessages   int64     `json:"current_day_messages"`
	CurrentMonthMessages int64     `json:"current_month_messages"`
	CurrentMonthSessions int64     `json:"current_month_sessions"`
	MessagesLimitDay     int64     `json:"messages_limit_day"`
	MessagesLimitMonth   int64     `json:"messages_limit_month"`
	RemainingToday       int64     `json:"remaining_today"`
	RemainingThisMonth   int64     `json:"remaining_this_month"`
	DailyPercentUsed     float64   `json:"daily_percent_used"`
	MonthlyPercentUsed   float64   `json:"monthly_percent_used"`
	LastDayReset         time.Time `json:"last_day_reset"`
	LastMonthReset       time.Time `json:"last_month_reset"`
	LastActive           time.Time `json:"last_active,omitempty"`
}

func newStatus(c *Counter, limits Limits) *Status {
	return &Status{
		Entity:               c.Key,
		TenantID:             c.TenantID,
		Plan:                 c.Plan,
		Timezone:             c.Timezone,
		TotalMessages:        c.TotalMessages,
		TotalSessions:        c.TotalSessions,
		CurrentDayMessages:   c.CurrentDayMessages,
		CurrentMonthMessages: c.CurrentMonthMessages,
		CurrentMonthSessions: c.CurrentMonthSessions,
		MessagesLimitDay:     limits.MessagesPerDay,
		MessagesLimitMonth:   limits.MessagesPerMonth,
		RemainingToday:       remaining(limits.MessagesPerDay, c.CurrentDayMessages),
		RemainingThisMonth:   remaining(limits.MessagesPerMonth, c.CurrentMonthMessages),
		DailyPercentUsed:     percent(c.CurrentDayMessages, limits.MessagesPerDay),
		MonthlyPercentUsed:   percent(c.CurrentMonthMessages, limits.MessagesPerMonth),
		LastDayReset:         c.LastDayReset,
		LastMonthReset:       c.LastMonthReset,
		LastActive:           c.LastActive,
	}
}

func remaining(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}

func percent(used, limit int64) float64 {
	if limit <= 0 {
		return 100
	}
	p := float64(used) * 100 / float64(limit)
	if p > 100 {
		return 100
	}
	return p
}
