package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/widgetly-platform/widgetly/internal/metrics"
	inats "github.com/widgetly-platform/widgetly/internal/nats"
)

// Gate decides whether one unit of work may proceed for an entity.
//
// Admission reads the persisted counter on every call and never increments it;
// callers record usage through a Recorder once the work has completed. Two
// concurrent requests may both pass when a single slot remains; the overshoot
// is bounded by the number of in-flight requests.
type Gate struct {
	store  Store
	plans  *PlanTable
	policy ResetPolicy
	opts   options
}

// NewGate creates a new admission Gate.
func NewGate(store Store, plans *PlanTable, policy ResetPolicy, opts ...Option) *Gate {
	return &Gate{
		store:  store,
		plans:  plans,
		policy: policy,
		opts:   buildOptions(opts),
	}
}

// CheckAndReset loads key, persists any due day/month reset, and compares the
// post-reset counts against the plan limits. It is a read-write operation: the
// reset is saved even when the request ends up rejected.
//
// Quota rejections are returned as a Decision with Allowed=false and a nil
// error. Errors are reserved for ErrEntityNotFound and ErrStoreUnavailable.
func (g *Gate) CheckAndReset(ctx context.Context, key EntityKey) (*Decision, error) {
	now := g.opts.now()

	c, res, err := refresh(ctx, g.store, g.policy, key, now, g.opts)
	if err != nil {
		metrics.AdmissionDecisionsTotal.WithLabelValues(string(key.Kind), admissionErrorLabel(err)).Inc()
		return nil, fmt.Errorf("checking usage for %s: %w", key, err)
	}

	limits := g.plans.LimitsFor(key.Kind, c.Plan)
	d := &Decision{Allowed: true, Counter: c, Limits: limits, Reset: res}

	switch {
	case c.CurrentDayMessages >= limits.MessagesPerDay:
		d.Allowed = false
		d.Rejection = g.reject(c, LimitDaily, limits.MessagesPerDay, c.CurrentDayMessages, now)
	case c.CurrentMonthMessages >= limits.MessagesPerMonth:
		d.Allowed = false
		d.Rejection = g.reject(c, LimitMonthly, limits.MessagesPerMonth, c.CurrentMonthMessages, now)
	}

	if d.Allowed {
		metrics.AdmissionDecisionsTotal.WithLabelValues(string(key.Kind), "allowed").Inc()
		return d, nil
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues(string(key.Kind), d.Rejection.Code).Inc()
	slog.Debug("usage: request rejected",
		"entity", key.String(),
		"code", d.Rejection.Code,
		"used", d.Rejection.Used,
		"limit", d.Rejection.Limit,
	)
	g.opts.notify(ctx, inats.UsageEvent{
		ID:         uuid.New().String(),
		EntityKind: string(key.Kind),
		EntityID:   key.ID,
		EventType:  inats.UsageEventLimitExceeded,
		Code:       d.Rejection.Code,
		Plan:       c.Plan,
		Used:       d.Rejection.Used,
		Limit:      d.Rejection.Limit,
		Timestamp:  now.UTC(),
	})
	return d, nil
}

// Admit checks a chatbot client and, when tenantID is set, its owning tenant.
// The first rejection wins. A tenant without a usage counter is not enforced.
func (g *Gate) Admit(ctx context.Context, clientID, tenantID string) (*Decision, error) {
	d, err := g.CheckAndReset(ctx, EntityKey{Kind: KindClient, ID: clientID})
	if err != nil || !d.Allowed || tenantID == "" {
		return d, err
	}

	td, err := g.CheckAndReset(ctx, EntityKey{Kind: KindTenant, ID: tenantID})
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			slog.Debug("usage: tenant has no counter, skipping tenant limits", "tenant_id", tenantID)
			return d, nil
		}
		return nil, err
	}
	if !td.Allowed {
		return td, nil
	}
	return d, nil
}

func (g *Gate) reject(c *Counter, kind LimitKind, limit, used int64, now time.Time) *Rejection {
	r := &Rejection{
		Code:      rejectionCode(c.Key.Kind, kind),
		Entity:    c.Key,
		LimitKind: kind,
		Limit:     limit,
		Used:      used,
		Plan:      c.Plan,
		Upgrade:   g.plans.UpgradeFor(c.Key.Kind, c.Plan),
	}
	if kind == LimitMonthly {
		r.ResetInUnits = DaysUntilNextMonth(now, g.policy.MonthLocation)
		r.ResetUnit = "days"
	} else {
		r.ResetInUnits = HoursUntilNextDay(now, c.Location())
		r.ResetUnit = "hours"
	}
	return r
}

func onReset(ctx context.Context, c *Counter, res ResetResult, o options) {
	if res.Day {
		metrics.CounterResetsTotal.WithLabelValues(string(c.Key.Kind), "day").Inc()
	}
	if res.Month {
		metrics.CounterResetsTotal.WithLabelValues(string(c.Key.Kind), "month").Inc()
	}
	o.notify(ctx, inats.UsageEvent{
		ID:         uuid.New().String(),
		EntityKind: string(c.Key.Kind),
		EntityID:   c.Key.ID,
		EventType:  inats.UsageEventCountersReset,
		Plan:       c.Plan,
		DayReset:   res.Day,
		MonthReset: res.Month,
		Timestamp:  o.now().UTC(),
	})
}

func admissionErrorLabel(err error) string {
	switch {
	case errors.Is(err, ErrEntityNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
