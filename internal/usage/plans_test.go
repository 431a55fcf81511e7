package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanTable_LimitsFor(t *testing.T) {
	plans := DefaultPlanTable()

	tests := []struct {
		kind  EntityKind
		plan  string
		day   int64
		month int64
	}{
		{KindClient, PlanFree, 10, 300},
		{KindClient, PlanPaid, 1000, 30000},
		{KindTenant, PlanTrial, 10, 1000},
		{KindTenant, PlanStarter, 5000, 100000},
		{KindTenant, PlanPro, 20000, 500000},
		{KindTenant, PlanEnterprise, 100000, 2000000},
		// Unknown plans fall back to the most restrictive plan of the kind.
		{KindClient, "platinum", 10, 300},
		{KindTenant, "", 10, 1000},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.plan, func(t *testing.T) {
			l := plans.LimitsFor(tt.kind, tt.plan)
			assert.Equal(t, tt.day, l.MessagesPerDay)
			assert.Equal(t, tt.month, l.MessagesPerMonth)
		})
	}
}

func TestPlanTable_Known(t *testing.T) {
	plans := DefaultPlanTable()
	assert.True(t, plans.Known(KindClient, PlanPaid))
	assert.False(t, plans.Known(KindClient, PlanPro), "tenant plans are not client plans")
	assert.False(t, plans.Known(KindTenant, "platinum"))

	plans.Set(KindTenant, "platinum", Limits{MessagesPerDay: 1, MessagesPerMonth: 2})
	assert.True(t, plans.Known(KindTenant, "platinum"))
	assert.Equal(t, Limits{MessagesPerDay: 1, MessagesPerMonth: 2}, plans.LimitsFor(KindTenant, "platinum"))
}

func TestPlanTable_UpgradeFor(t *testing.T) {
	plans := DefaultPlanTable()

	up := plans.UpgradeFor(KindClient, PlanFree)
	if assert.NotNil(t, up) {
		assert.Equal(t, PlanPaid, up.Plan)
		assert.Equal(t, 200, up.Price)
		assert.Equal(t, "MXN", up.Currency)
		assert.NotEmpty(t, up.Features)
	}
	assert.Nil(t, plans.UpgradeFor(KindClient, PlanPaid))
	assert.Nil(t, plans.UpgradeFor(KindTenant, PlanEnterprise))
}

func TestDefaultPlan(t *testing.T) {
	assert.Equal(t, PlanFree, DefaultPlan(KindClient))
	assert.Equal(t, PlanTrial, DefaultPlan(KindTenant))
}

func TestApplyPlanChange_KeepsCounts(t *testing.T) {
	c := counterAt("2024-03-10T08:00:00Z", "2024-03-01T00:00:00Z")
	got := ApplyPlanChange(c, PlanPaid)

	assert.Equal(t, PlanPaid, got.Plan)
	assert.Equal(t, c.CurrentDayMessages, got.CurrentDayMessages)
	assert.Equal(t, c.CurrentMonthMessages, got.CurrentMonthMessages)
	assert.Equal(t, c.TotalMessages, got.TotalMessages)
	assert.Equal(t, PlanFree, c.Plan)
}
