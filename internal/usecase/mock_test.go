//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/domain/ports/repository"
)

// -----------------------------
// Utilities
// -----------------------------

// fixedClock is a settable clock shared by the components under test.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func ptr[T any](v T) *T { return &v }

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// ---- In-memory UserRepository ----

// MockUserRepo applies every conditional update under one mutex, which gives
// the same compare-and-set outcome as a single conditional UPDATE.
type MockUserRepo struct {
	mu   sync.Mutex
	byID map[string]*model.User

	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	ClaimActiveJobHit int
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[string]*model.User{}}
}

func (r *MockUserRepo) snapshot() map[string]model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.User, len(r.byID))
	for id, u := range r.byID {
		out[id] = *u
	}
	return out
}

func (r *MockUserRepo) restore(snap map[string]model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]*model.User, len(snap))
	for id, u := range snap {
		cp := u
		r.byID[id] = &cp
	}
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.byID[cp.ID] = &cp
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) ResetQuota(ctx context.Context, tx repository.Tx, userID string, prevResetAt, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !u.QuotaResetAt.Equal(prevResetAt) {
		return false, nil
	}
	u.QuotaUsed = 0
	u.QuotaResetAt = now
	return true, nil
}

func (r *MockUserRepo) AddQuotaUsed(ctx context.Context, tx repository.Tx, userID string, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.QuotaUsed += n
	return nil
}

func (r *MockUserRepo) ClaimActiveJob(ctx context.Context, tx repository.Tx, userID, jobID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ClaimActiveJobHit++
	u, ok := r.byID[userID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if u.ActiveJobID != nil {
		return false, nil
	}
	u.ActiveJobID = ptr(jobID)
	u.ActiveJobAt = ptr(now)
	return true, nil
}

func (r *MockUserRepo) ReleaseActiveJob(ctx context.Context, tx repository.Tx, userID, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if u.ActiveJobID == nil || *u.ActiveJobID != jobID {
		return false, nil
	}
	u.ActiveJobID = nil
	u.ActiveJobAt = nil
	return true, nil
}

func (r *MockUserRepo) SetCooldown(ctx context.Context, tx repository.Tx, userID string, until *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if until == nil {
		u.CooldownUntil = nil
	} else {
		u.CooldownUntil = ptr(*until)
	}
	return nil
}

// ---- In-memory JobRepository ----

type MockJobRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Job

	FinishCalls int
}

var _ repository.JobRepository = (*MockJobRepo)(nil)

func NewMockJobRepo() *MockJobRepo {
	return &MockJobRepo{byID: map[string]*model.Job{}}
}

func (r *MockJobRepo) snapshot() map[string]model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.Job, len(r.byID))
	for id, j := range r.byID {
		out[id] = *j
	}
	return out
}

func (r *MockJobRepo) restore(snap map[string]model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]*model.Job, len(snap))
	for id, j := range snap {
		cp := j
		r.byID[id] = &cp
	}
}

func (r *MockJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	r.byID[job.ID] = &cp
	return nil
}

func (r *MockJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.byID[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockJobRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.byID {
		if j.ExternalJobID != "" && j.ExternalJobID == externalID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockJobRepo) FetchAndMarkDispatching(ctx context.Context) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []*model.Job
	for _, j := range r.byID {
		if j.Status == model.JobStatusPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(pending, func(a, b int) bool { return pending[a].ID < pending[b].ID })
	j := pending[0]
	j.Status = model.JobStatusDispatching
	cp := *j
	return &cp, nil
}

func (r *MockJobRepo) MarkRunning(ctx context.Context, tx repository.Tx, id, externalID string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != model.JobStatusDispatching {
		return domain.ErrConflict
	}
	j.Status = model.JobStatusRunning
	j.ExternalJobID = externalID
	j.Attempts = attempts
	return nil
}

func (r *MockJobRepo) Requeue(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.Status != model.JobStatusDispatching {
		return false, nil
	}
	j.Status = model.JobStatusPending
	return true, nil
}

// CountStatus reports how many stored jobs are in status.
func (r *MockJobRepo) CountStatus(status model.JobStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.byID {
		if j.Status == status {
			n++
		}
	}
	return n
}

func (r *MockJobRepo) Finish(ctx context.Context, tx repository.Tx, id string, status model.JobStatus, lastError string, leadsGenerated int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishCalls++
	j, ok := r.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.Status.IsTerminal() {
		return false, nil
	}
	j.Status = status
	j.LastError = lastError
	j.LeadsGenerated = leadsGenerated
	j.FinishedAt = ptr(at)
	return true, nil
}

func (r *MockJobRepo) ListStale(ctx context.Context, tx repository.Tx, startedBefore time.Time, limit int) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Job
	for _, j := range r.byID {
		if !j.Status.IsTerminal() && j.CreatedAt.Before(startedBefore) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- In-memory LeadRepository ----

type MockLeadRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Lead
}

var _ repository.LeadRepository = (*MockLeadRepo)(nil)

func NewMockLeadRepo() *MockLeadRepo {
	return &MockLeadRepo{byID: map[string]*model.Lead{}}
}

func (r *MockLeadRepo) Upsert(ctx context.Context, tx repository.Tx, lead *model.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *lead
	r.byID[lead.ID] = &cp
	return nil
}

func (r *MockLeadRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.byID[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockLeadRepo) CountByJob(ctx context.Context, tx repository.Tx, jobID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.byID {
		if l.JobID == jobID {
			n++
		}
	}
	return n, nil
}

// ---- Mock TxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// NewRollbackTxManager behaves like a pgx transaction over the in-memory
// repositories: BEGIN fails on a done context, transactions run one at a time
// and a transaction whose fn returns an error leaves no writes behind.
func NewRollbackTxManager(users *MockUserRepo, jobs *MockJobRepo) *MockTxManager {
	var mu sync.Mutex
	return &MockTxManager{
		WithTxFunc: func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			us, js := users.snapshot(), jobs.snapshot()
			if err := fn(ctx, repository.NoTX); err != nil {
				users.restore(us)
				jobs.restore(js)
				return err
			}
			return nil
		},
	}
}

// WithTx runs fn immediately with NoTX unless WithTxFunc overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- Mock ContextProvider ----

type MockContextProvider struct {
	mu       sync.Mutex
	contexts map[string]*adapter.BusinessContext
}

var _ adapter.ContextProvider = (*MockContextProvider)(nil)

func NewMockContextProvider() *MockContextProvider {
	return &MockContextProvider{contexts: map[string]*adapter.BusinessContext{}}
}

func (m *MockContextProvider) SetReady(userID string, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[userID] = &adapter.BusinessContext{UserID: userID, Data: json.RawMessage(data)}
}

func (m *MockContextProvider) SetIncomplete(userID string, missing ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[userID] = &adapter.BusinessContext{UserID: userID, Data: json.RawMessage(`{}`), Missing: missing}
}

func (m *MockContextProvider) Get(ctx context.Context, userID string) (*adapter.BusinessContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bc, ok := m.contexts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *bc
	return &cp, nil
}

// ---- Mock PipelineClient ----

type MockPipeline struct {
	mu    sync.Mutex
	Calls []adapter.StartJobRequest

	StartJobFunc func(ctx context.Context, req adapter.StartJobRequest) (*adapter.StartJobResponse, error)
}

var _ adapter.PipelineClient = (*MockPipeline)(nil)

func (m *MockPipeline) StartJob(ctx context.Context, req adapter.StartJobRequest) (*adapter.StartJobResponse, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()
	if m.StartJobFunc != nil {
		return m.StartJobFunc(ctx, req)
	}
	return &adapter.StartJobResponse{Status: "started", JobID: "ext-" + req.UserID}, nil
}

func (m *MockPipeline) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ---- Recording Notifier ----

type MockNotifier struct {
	mu   sync.Mutex
	Sent []model.Notification
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(ctx context.Context, n model.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, n)
}

// Kinds returns the kinds delivered to userID, in order.
func (m *MockNotifier) Kinds(userID string) []model.NotificationKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.NotificationKind
	for _, n := range m.Sent {
		if n.UserID == userID {
			out = append(out, n.Type)
		}
	}
	return out
}

// Last returns the latest notification of kind, or nil.
func (m *MockNotifier) Last(kind model.NotificationKind) *model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].Type == kind {
			n := m.Sent[i]
			return &n
		}
	}
	return nil
}

func (m *MockNotifier) Count(kind model.NotificationKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Sent {
		if s.Type == kind {
			n++
		}
	}
	return n
}
