package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospect-engine/internal/domain/model"
)

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) error {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return f.err
}

type fakeDeliverer struct {
	user   string
	frames [][]byte
}

func (f *fakeDeliverer) Deliver(userID string, frame []byte) {
	f.user = userID
	f.frames = append(f.frames, frame)
}

func newTestRelay(pub publisher, local Deliverer) *NotifyRelay {
	log := zerolog.Nop()
	return &NotifyRelay{pub: pub, local: local, log: &log}
}

func TestChannelRoundTrip(t *testing.T) {
	ch := NotifyChannel("u-1")
	assert.Equal(t, "notify:u-1", ch)

	id, ok := UserFromChannel(ch)
	assert.True(t, ok)
	assert.Equal(t, "u-1", id)

	_, ok = UserFromChannel("notify:")
	assert.False(t, ok)
	_, ok = UserFromChannel("other:u-1")
	assert.False(t, ok)
}

func TestNotifyRelay_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	local := &fakeDeliverer{}
	r := newTestRelay(pub, local)

	r.Notify(context.Background(), model.Notification{
		Type:      model.NotifyQuotaUpdate,
		UserID:    "u-1",
		Timestamp: time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC),
		Payload:   map[string]int{"remaining": 7},
	})

	assert.Equal(t, "notify:u-1", pub.channel)
	assert.Empty(t, local.frames, "published frames come back through the subscription")

	var frame map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &frame))
	assert.Equal(t, "quota_update", frame["type"])
	assert.NotContains(t, frame, "UserID")
}

func TestNotifyRelay_FallsBackToLocal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	local := &fakeDeliverer{}
	r := newTestRelay(pub, local)

	r.Notify(context.Background(), model.Notification{Type: model.NotifyJobFailed, UserID: "u-2"})

	require.Len(t, local.frames, 1)
	assert.Equal(t, "u-2", local.user)
}
