package usecase

import "time"

// Clock hooks for tests in usecase_test.

func (l *QuotaLedger) SetClock(now func() time.Time)         { l.now = now }
func (a *AdmissionController) SetClock(now func() time.Time) { a.now = now }
func (d *Dispatcher) SetClock(now func() time.Time)          { d.now = now }
func (i *EventInterpreter) SetClock(now func() time.Time)    { i.now = now }
func (r *LeaseReaper) SetClock(now func() time.Time)         { r.now = now }
