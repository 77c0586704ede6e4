//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/usecase"
)

// fixture wires the core components over in-memory fakes and one clock.
type fixture struct {
	clock    *fixedClock
	users    *MockUserRepo
	jobs     *MockJobRepo
	leads    *MockLeadRepo
	contexts *MockContextProvider
	pipeline *MockPipeline
	notifier *MockNotifier
	tm       *MockTxManager

	ledger      *usecase.QuotaLedger
	dispatcher  *usecase.Dispatcher
	admission   *usecase.AdmissionController
	interpreter *usecase.EventInterpreter
}

// Wednesday 11 March 2026, mid-morning UTC.
var baseTime = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newClock(baseTime),
		users:    NewMockUserRepo(),
		jobs:     NewMockJobRepo(),
		leads:    NewMockLeadRepo(),
		contexts: NewMockContextProvider(),
		pipeline: &MockPipeline{},
		notifier: &MockNotifier{},
	}
	log := newTestLogger()
	f.tm = NewRollbackTxManager(f.users, f.jobs)
	tm := f.tm

	f.ledger = usecase.NewQuotaLedger(f.users, time.UTC, 50, log)
	f.ledger.SetClock(f.clock.Now)

	f.dispatcher = usecase.NewDispatcher(f.jobs, f.users, f.pipeline, f.notifier, tm, usecase.DispatchConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		StartTimeout:   time.Second,
	}, log)
	f.dispatcher.SetClock(f.clock.Now)

	f.admission = usecase.NewAdmissionController(f.users, f.jobs, f.contexts, f.ledger, f.dispatcher, tm, f.notifier, log)
	f.admission.SetClock(f.clock.Now)

	f.interpreter = usecase.NewEventInterpreter(f.jobs, f.users, f.leads, f.ledger, tm, f.notifier, 24*time.Hour, log)
	f.interpreter.SetClock(f.clock.Now)
	return f
}

// addUser seeds a user with a ready business context.
func (f *fixture) addUser(t *testing.T, id string, plan model.PlanID, used int64) *model.User {
	t.Helper()
	u, err := model.NewUser(id, plan, f.clock.Now())
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	u.QuotaUsed = used
	if err := f.users.Save(context.Background(), nil, u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.contexts.SetReady(id, `{"industry":"saas","region":"eu"}`)
	return u
}

func (f *fixture) user(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := f.users.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return u
}

func (f *fixture) job(t *testing.T, id string) *model.Job {
	t.Helper()
	j, err := f.jobs.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("job %s: %v", id, err)
	}
	return j
}

// admitAndDispatch runs a user through admission and the dispatch worker.
func (f *fixture) admitAndDispatch(t *testing.T, userID string) *model.Job {
	t.Helper()
	ctx := context.Background()
	adm, err := f.admission.TryStart(ctx, userID)
	if err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	ok, err := f.dispatcher.ProcessNext(ctx)
	if err != nil || !ok {
		t.Fatalf("ProcessNext = %v, %v", ok, err)
	}
	return f.job(t, adm.JobID)
}

func (f *fixture) handle(t *testing.T, raw string) error {
	t.Helper()
	ev, err := model.DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent(%s): %v", raw, err)
	}
	return f.interpreter.Handle(context.Background(), ev)
}
