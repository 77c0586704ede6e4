package redis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/infra/metrics"
)

const notifyPrefix = "notify:"

// NotifyChannel is the pub/sub channel carrying frames for one user.
func NotifyChannel(userID string) string { return notifyPrefix + userID }

// UserFromChannel is the inverse of NotifyChannel.
func UserFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, notifyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, notifyPrefix)
	return id, id != ""
}

// Deliverer hands an encoded frame to the clients connected to this instance.
type Deliverer interface {
	Deliver(userID string, frame []byte)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

var _ adapter.Notifier = (*NotifyRelay)(nil)

// NotifyRelay fans notifications out across instances. Notify publishes the
// frame; Run subscribes to every user channel and delivers locally. When the
// publish fails the frame still reaches local clients.
type NotifyRelay struct {
	client *Client
	pub    publisher
	local  Deliverer
	log    *zerolog.Logger
}

func NewNotifyRelay(client *Client, local Deliverer, log *zerolog.Logger) *NotifyRelay {
	return &NotifyRelay{client: client, pub: client, local: local, log: log}
}

func (r *NotifyRelay) Notify(ctx context.Context, n model.Notification) {
	frame, err := json.Marshal(n)
	if err != nil {
		metrics.IncNotification(string(n.Type), "encode_error")
		r.log.Error().Err(err).Str("type", string(n.Type)).Msg("encode notification")
		return
	}
	if err := r.pub.Publish(ctx, NotifyChannel(n.UserID), frame); err != nil {
		metrics.IncNotification(string(n.Type), "publish_error")
		r.log.Warn().Err(err).Str("user_id", n.UserID).Msg("publish notification failed, delivering locally")
		r.local.Deliver(n.UserID, frame)
	}
}

// Run blocks until ctx is cancelled, relaying published frames to local clients.
func (r *NotifyRelay) Run(ctx context.Context) error {
	ps := r.client.cli.PSubscribe(ctx, notifyPrefix+"*")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.log.Info().Msg("notification relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID, ok := UserFromChannel(msg.Channel)
			if !ok {
				continue
			}
			r.local.Deliver(userID, []byte(msg.Payload))
		}
	}
}
