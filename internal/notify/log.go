package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/InnokentiyKim/Retail/internal/domain/event"
)

var _ event.NotificationDispatcher = LogDispatcher{}

// LogDispatcher delivers notifications to the log. It stands in for a mail
// or push gateway.
type LogDispatcher struct{}

// Notify logs n.
func (LogDispatcher) Notify(ctx context.Context, n event.Notification) error {
	zctx.From(ctx).Info("Notification delivered",
		zap.Stringer("event_id", n.EventID),
		zap.Int64("user_id", n.UserID),
		zap.Int64("order_id", n.OrderID),
		zap.String("state", n.State),
		zap.String("artifact", n.Artifact),
	)
	return nil
}
