package model

import (
	"strings"

	"prospect-engine/internal/domain"
)

type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanStarter    PlanID = "starter"
	PlanPro        PlanID = "pro"
	PlanEnterprise PlanID = "enterprise"
)

type QuotaPeriod string

const (
	PeriodDay   QuotaPeriod = "day"
	PeriodWeek  QuotaPeriod = "week"
	PeriodMonth QuotaPeriod = "month"
)

// Unbounded marks a plan quota without an upper limit.
const Unbounded int64 = -1

// UnboundedRemaining is reported as the remaining allowance of unbounded plans.
const UnboundedRemaining int64 = 1 << 31

// Plan is a lead allowance over a rolling period.
type Plan struct {
	ID     PlanID
	Quota  int64
	Period QuotaPeriod
}

func (p Plan) IsUnbounded() bool { return p.Quota == Unbounded }

var plans = map[PlanID]Plan{
	PlanFree:       {ID: PlanFree, Quota: 10, Period: PeriodDay},
	PlanStarter:    {ID: PlanStarter, Quota: 75, Period: PeriodDay},
	PlanPro:        {ID: PlanPro, Quota: 300, Period: PeriodWeek},
	PlanEnterprise: {ID: PlanEnterprise, Quota: Unbounded, Period: PeriodMonth},
}

// LookupPlan resolves a plan id case-insensitively.
func LookupPlan(id PlanID) (Plan, error) {
	p, ok := plans[PlanID(strings.ToLower(strings.TrimSpace(string(id))))]
	if !ok {
		return Plan{}, domain.ErrInvalidArgument
	}
	return p, nil
}

// Plans lists the catalog in a stable order.
func Plans() []Plan {
	return []Plan{plans[PlanFree], plans[PlanStarter], plans[PlanPro], plans[PlanEnterprise]}
}
