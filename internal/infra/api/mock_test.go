//go:build !integration

package api

import (
	"context"
	"net/http"
	"time"

	"prospect-engine/internal/domain/model"
)

type fakeAdmitter struct {
	TryStartFunc func(ctx context.Context, userID string) (*model.Admission, error)
	calls        int
}

func (f *fakeAdmitter) TryStart(ctx context.Context, userID string) (*model.Admission, error) {
	f.calls++
	return f.TryStartFunc(ctx, userID)
}

type fakeQuota struct {
	SnapshotFunc func(ctx context.Context, userID string) (*model.QuotaSnapshot, error)
}

func (f *fakeQuota) Snapshot(ctx context.Context, userID string) (*model.QuotaSnapshot, error) {
	return f.SnapshotFunc(ctx, userID)
}

type fakeJobs struct {
	ActiveJobForFunc func(ctx context.Context, userID string) (*model.Job, error)
}

func (f *fakeJobs) ActiveJobFor(ctx context.Context, userID string) (*model.Job, error) {
	return f.ActiveJobForFunc(ctx, userID)
}

type fakeSink struct {
	IngestFunc func(ctx context.Context, raw []byte) error
	got        [][]byte
}

func (f *fakeSink) Ingest(ctx context.Context, raw []byte, done func()) error {
	f.got = append(f.got, raw)
	if f.IngestFunc != nil {
		return f.IngestFunc(ctx, raw)
	}
	return nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

type fakeWS struct{ user string }

func (f *fakeWS) ServeWS(w http.ResponseWriter, _ *http.Request, userID string) {
	f.user = userID
	w.WriteHeader(http.StatusSwitchingProtocols)
}
