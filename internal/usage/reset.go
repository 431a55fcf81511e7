package usage

import (
	"sync"
	"time"
)

var (
	locMu    sync.RWMutex
	locCache = map[string]*time.Location{}
)

// LoadLocation resolves an IANA timezone name, caching results. Empty or
// unknown names resolve to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" || name == "UTC" {
		return time.UTC
	}

	locMu.RLock()
	loc, ok := locCache[name]
	locMu.RUnlock()
	if ok {
		return loc
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}

	locMu.Lock()
	locCache[name] = loc
	locMu.Unlock()
	return loc
}

// ResetResult reports which periods rolled over in one Apply call.
type ResetResult struct {
	Day   bool
	Month bool
}

// Changed reports whether any counter was zeroed.
func (r ResetResult) Changed() bool {
	return r.Day || r.Month
}

// ResetPolicy zeroes period counters once their day or month has ended.
// Days are evaluated in the entity's timezone; months in MonthLocation.
type ResetPolicy struct {
	MonthLocation *time.Location
}

// NewResetPolicy returns a policy evaluating month boundaries in monthLoc
// (UTC when nil).
func NewResetPolicy(monthLoc *time.Location) ResetPolicy {
	if monthLoc == nil {
		monthLoc = time.UTC
	}
	return ResetPolicy{MonthLocation: monthLoc}
}

// Apply returns c with any elapsed period counters zeroed. It never mutates c.
// A period only rolls over when now falls in a strictly later day or month than
// the stored reset stamp, so stamps from a skewed clock in the future are left alone.
func (p ResetPolicy) Apply(c Counter, now time.Time, tz *time.Location) (Counter, ResetResult) {
	if tz == nil {
		tz = time.UTC
	}
	monthLoc := p.MonthLocation
	if monthLoc == nil {
		monthLoc = time.UTC
	}

	var res ResetResult
	if dayAfter(now.In(tz), c.LastDayReset.In(tz)) {
		c.CurrentDayMessages = 0
		c.LastDayReset = now
		res.Day = true
	}
	if monthAfter(now.In(monthLoc), c.LastMonthReset.In(monthLoc)) {
		c.CurrentMonthMessages = 0
		c.CurrentMonthSessions = 0
		c.LastMonthReset = now
		res.Month = true
	}
	return c, res
}

func dayAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}

func monthAfter(a, b time.Time) bool {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	if ay != by {
		return ay > by
	}
	return am > bm
}

// HoursUntilNextDay returns the whole hours remaining until local midnight in
// tz, counting a partial hour as a full one. The result is at least 1.
func HoursUntilNextDay(now time.Time, tz *time.Location) int {
	if tz == nil {
		tz = time.UTC
	}
	local := now.In(tz)
	y, m, d := local.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, tz)
	left := next.Sub(local)
	hours := int(left / time.Hour)
	if left%time.Hour != 0 {
		hours++
	}
	if hours < 1 {
		hours = 1
	}
	return hours
}

// DaysUntilNextMonth returns the whole days remaining until the first of the
// next month in loc, counting a partial day as a full one.
func DaysUntilNextMonth(now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, _ := local.Date()
	next := time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	left := next.Sub(local)
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}
