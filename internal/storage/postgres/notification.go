package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/event"
)

const claimNotificationSQL = `INSERT INTO notification_log (order_id, state, event_id, delivered_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (order_id, state) DO NOTHING`

// NotificationLog remembers which (order, state) notifications were sent.
type NotificationLog struct {
	pool *pgxpool.Pool
}

// NewNotificationLog returns a NotificationLog that uses the given pool.
func NewNotificationLog(pool *pgxpool.Pool) *NotificationLog {
	return &NotificationLog{pool: pool}
}

// Claim records n and reports whether it is the first delivery of its order
// and state. Run it in the transaction that wraps the send so a failed send
// releases the claim.
func (l *NotificationLog) Claim(ctx context.Context, n event.Notification) (bool, error) {
	tag, err := conn(ctx, l.pool).Exec(ctx, claimNotificationSQL, n.OrderID, n.State, n.EventID, n.SentAt)
	if err != nil {
		return false, fmt.Errorf("claiming notification for order %d: %w", n.OrderID, err)
	}
	return tag.RowsAffected() == 1, nil
}
