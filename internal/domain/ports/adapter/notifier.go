package adapter

import (
	"context"

	"prospect-engine/internal/domain/model"
)

// Notifier delivers a notification to every connected client of n.UserID.
// Delivery is best effort and never blocks on slow clients.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}
