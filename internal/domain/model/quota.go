package model

import "time"

// PeriodCrossed reports whether now lies in a later calendar period than
// resetAt. Calendar days, weeks (starting Sunday) and months are evaluated in loc.
func PeriodCrossed(period QuotaPeriod, resetAt, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	r, n := resetAt.In(loc), now.In(loc)
	switch period {
	case PeriodWeek:
		return weekStart(n).After(weekStart(r))
	case PeriodMonth:
		return r.Year() != n.Year() || r.Month() != n.Month()
	default:
		return dayStart(n).After(dayStart(r))
	}
}

// NextReset returns the first instant of the period following the one holding now.
func NextReset(period QuotaPeriod, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	n := now.In(loc)
	switch period {
	case PeriodWeek:
		return weekStart(n).AddDate(0, 0, 7)
	case PeriodMonth:
		return time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	default:
		return dayStart(n).AddDate(0, 0, 1)
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// QuotaSnapshot is the read model served to clients and embedded in
// quota_update notifications.
type QuotaSnapshot struct {
	PlanID          PlanID      `json:"plan_id"`
	TotalQuota      int64       `json:"total_quota"`
	UsedQuota       int64       `json:"used_quota"`
	RemainingQuota  int64       `json:"remaining_quota"`
	Unbounded       bool        `json:"unbounded"`
	UsagePercentage float64     `json:"usage_percentage"`
	ResetPeriod     QuotaPeriod `json:"reset_period"`
	NextResetAt     time.Time   `json:"next_reset_at"`
	CooldownUntil   *time.Time  `json:"cooldown_until,omitempty"`
}
