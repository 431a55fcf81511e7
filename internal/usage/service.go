package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrUnknownPlan is returned for a plan name the PlanTable does not define.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrUnknownKind is returned for an entity kind other than client or tenant.
	ErrUnknownKind = errors.New("unknown entity kind")
	// ErrUnknownTimezone is returned for a timezone that is not a valid IANA name.
	ErrUnknownTimezone = errors.New("unknown timezone")
	// ErrInvalidOwner is returned when an owning tenant is set on a tenant counter.
	ErrInvalidOwner = errors.New("only client counters have an owning tenant")
)

// ProvisionParams describes a new counter. Empty fields take the defaults.
type ProvisionParams struct {
	Plan     string
	Timezone string
	// TenantID records which tenant owns a client.
	TenantID string
}

// Service provisions counters and serves usage reports and plan changes.
type Service struct {
	store  Store
	plans  *PlanTable
	policy ResetPolicy
	opts   options
}

// NewService creates a new usage Service.
func NewService(store Store, plans *PlanTable, policy ResetPolicy, opts ...Option) *Service {
	return &Service{
		store:  store,
		plans:  plans,
		policy: policy,
		opts:   buildOptions(opts),
	}
}

// Provision creates a zeroed counter for a new entity.
func (s *Service) Provision(ctx context.Context, key EntityKey, p ProvisionParams) (*Counter, error) {
	if !key.Kind.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, key.Kind)
	}
	if p.Plan != "" && !s.plans.Known(key.Kind, p.Plan) {
		return nil, fmt.Errorf("%w %q for %s", ErrUnknownPlan, p.Plan, key.Kind)
	}
	if p.TenantID != "" && key.Kind != KindClient {
		return nil, ErrInvalidOwner
	}
	timezone := p.Timezone
	if timezone == "" {
		timezone = s.opts.timezone
	}
	if err := validEntityTimezone(timezone); err != nil {
		return nil, err
	}
	c := NewCounter(key, p.Plan, timezone, s.opts.now())
	c.TenantID = p.TenantID
	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("provisioning %s: %w", key, err)
	}
	slog.Info("usage: counter provisioned", "entity", key.String(), "plan", c.Plan, "timezone", c.Timezone, "tenant_id", c.TenantID)
	return c, nil
}

// OwnerTenant reports the tenant recorded as owner of clientID. found is
// false when the client has no counter.
func (s *Service) OwnerTenant(ctx context.Context, clientID string) (string, bool, error) {
	c, err := s.store.Get(ctx, EntityKey{Kind: KindClient, ID: clientID})
	if errors.Is(err, ErrEntityNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up owner of client %s: %w", clientID, err)
	}
	return c.TenantID, true, nil
}

// Status returns the current usage of key with its limits. Any due reset is
// persisted first so the report matches what admission would see.
func (s *Service) Status(ctx context.Context, key EntityKey) (*Status, error) {
	c, _, err := refresh(ctx, s.store, s.policy, key, s.opts.now(), s.opts)
	if err != nil {
		return nil, fmt.Errorf("loading usage for %s: %w", key, err)
	}
	return newStatus(c, s.plans.LimitsFor(key.Kind, c.Plan)), nil
}

// ChangePlan moves key to plan. Counts already consumed this period stay as they are.
func (s *Service) ChangePlan(ctx context.Context, key EntityKey, plan string) (*Status, error) {
	if !s.plans.Known(key.Kind, plan) {
		return nil, fmt.Errorf("%w %q for %s", ErrUnknownPlan, plan, key.Kind)
	}
	if err := s.store.SetPlan(ctx, key, plan); err != nil {
		return nil, fmt.Errorf("changing plan for %s: %w", key, err)
	}
	slog.Info("usage: plan changed", "entity", key.String(), "plan", plan)
	return s.Status(ctx, key)
}

// Remove deletes the counter together with its entity.
func (s *Service) Remove(ctx context.Context, key EntityKey) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

// validEntityTimezone accepts IANA names only. "Local" is refused so a
// counter's day boundary never depends on the host it happens to run on.
func validEntityTimezone(name string) error {
	if name == "Local" {
		return fmt.Errorf("%w %q: use an IANA name", ErrUnknownTimezone, name)
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("%w %q", ErrUnknownTimezone, name)
	}
	return nil
}
