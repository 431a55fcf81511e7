package usage

import "fmt"

// Rejection codes returned to the widget.
const (
	CodeDailyLimitExceeded         = "DAILY_LIMIT_EXCEEDED"
	CodeMonthlyLimitExceeded       = "MONTHLY_LIMIT_EXCEEDED"
	CodeTenantDailyLimitExceeded   = "TENANT_DAILY_LIMIT_EXCEEDED"
	CodeTenantMonthlyLimitExceeded = "TENANT_MONTHLY_LIMIT_EXCEEDED"
)

// LimitKind names the threshold that was hit.
type LimitKind string

const (
	LimitDaily   LimitKind = "daily"
	LimitMonthly LimitKind = "monthly"
)

// Rejection is the structured payload for a request blocked by quota.
type Rejection struct {
	Code         string    `json:"code"`
	Entity       EntityKey `json:"entity"`
	LimitKind    LimitKind `json:"limit_kind"`
	Limit        int64     `json:"limit"`
	Used         int64     `json:"used"`
	ResetInUnits int       `json:"reset_in"`
	ResetUnit    string    `json:"reset_unit"`
	Plan         string    `json:"plan"`
	Upgrade      *Upgrade  `json:"upgrade,omitempty"`
}

// Message renders a human readable explanation of the rejection.
func (r *Rejection) Message() string {
	scope := "chatbot"
	if r.Entity.Kind == KindTenant {
		scope = "account"
	}
	period := "day"
	if r.LimitKind == LimitMonthly {
		period = "month"
	}
	msg := fmt.Sprintf("this %s has reached its limit of %d messages per %s", scope, r.Limit, period)
	if r.Upgrade != nil {
		msg += "; " + r.Upgrade.Message
	}
	return msg
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Rejection *Rejection
	// Counter is the post-reset state the decision was taken against.
	Counter *Counter
	Limits  Limits
	Reset   ResetResult
}

func rejectionCode(kind EntityKind, limit LimitKind) string {
	switch {
	case kind == KindTenant && limit == LimitMonthly:
		return CodeTenantMonthlyLimitExceeded
	case kind == KindTenant:
		return CodeTenantDailyLimitExceeded
	case limit == LimitMonthly:
		return CodeMonthlyLimitExceeded
	default:
		return CodeDailyLimitExceeded
	}
}
