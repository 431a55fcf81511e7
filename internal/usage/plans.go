package usage

// Plan identifiers for chatbot clients.
const (
	PlanFree = "free"
	PlanPaid = "paid"
)

// Plan identifiers for tenant accounts.
const (
	PlanTrial      = "trial"
	PlanStarter    = "starter"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// Limits are the message thresholds a plan grants.
type Limits struct {
	MessagesPerDay   int64 `json:"messages_per_day"`
	MessagesPerMonth int64 `json:"messages_per_month"`
}

// Upgrade is the remediation hint attached to rejections on an unpaid plan.
type Upgrade struct {
	Message  string   `json:"message"`
	Plan     string   `json:"plan"`
	Price    int      `json:"price"`
	Currency string   `json:"currency"`
	Features []string `json:"features"`
}

// PlanTable maps plan identifiers to limits per entity kind.
type PlanTable struct {
	plans    map[EntityKind]map[string]Limits
	upgrades map[EntityKind]map[string]*Upgrade
}

// DefaultPlanTable returns the built-in client and tenant plans.
func DefaultPlanTable() *PlanTable {
	t := &PlanTable{
		plans: map[EntityKind]map[string]Limits{
			KindClient: {
				PlanFree: {MessagesPerDay: 10, MessagesPerMonth: 300},
				PlanPaid: {MessagesPerDay: 1000, MessagesPerMonth: 30000},
			},
			KindTenant: {
				PlanTrial:      {MessagesPerDay: 10, MessagesPerMonth: 1000},
				PlanStarter:    {MessagesPerDay: 5000, MessagesPerMonth: 100000},
				PlanPro:        {MessagesPerDay: 20000, MessagesPerMonth: 500000},
				PlanEnterprise: {MessagesPerDay: 100000, MessagesPerMonth: 2000000},
			},
		},
		upgrades: map[EntityKind]map[string]*Upgrade{
			KindClient: {
				PlanFree: {
					Message:  "Upgrade to Premium for more messages",
					Plan:     PlanPaid,
					Price:    200,
					Currency: "MXN",
					Features: []string{"1,000 messages per day", "Priority support", "Unlimited sessions"},
				},
			},
		},
	}
	return t
}

// Set registers or replaces the limits for a plan.
func (t *PlanTable) Set(kind EntityKind, plan string, limits Limits) {
	if t.plans[kind] == nil {
		t.plans[kind] = map[string]Limits{}
	}
	t.plans[kind][plan] = limits
}

// Known reports whether plan is defined for kind.
func (t *PlanTable) Known(kind EntityKind, plan string) bool {
	_, ok := t.plans[kind][plan]
	return ok
}

// LimitsFor returns the limits for plan. Unknown plans get the kind's default
// (most restrictive) plan limits.
func (t *PlanTable) LimitsFor(kind EntityKind, plan string) Limits {
	if l, ok := t.plans[kind][plan]; ok {
		return l
	}
	return t.plans[kind][DefaultPlan(kind)]
}

// UpgradeFor returns the upgrade hint for plan, or nil when none applies.
func (t *PlanTable) UpgradeFor(kind EntityKind, plan string) *Upgrade {
	return t.upgrades[kind][plan]
}

// DefaultPlan is the plan assigned at provisioning when none is given.
func DefaultPlan(kind EntityKind) string {
	if kind == KindTenant {
		return PlanTrial
	}
	return PlanFree
}

// ApplyPlanChange returns c on the new plan. Accumulated counts are untouched;
// only the limits that later checks compare against change.
func ApplyPlanChange(c Counter, plan string) Counter {
	c.Plan = plan
	return c
}
