// Package event defines order lifecycle events and the collaborators that
// consume them after a transition commits.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lifecycle is emitted for every committed order state transition.
type Lifecycle struct {
	ID         uuid.UUID
	OrderID    int64
	UserID     int64
	From       string
	State      string
	ProductIDs []int64
	OccurredAt time.Time
}

// New creates a Lifecycle event with a fresh id.
func New(orderID, userID int64, from, to string, productIDs []int64, at time.Time) Lifecycle {
	return Lifecycle{
		ID:         uuid.New(),
		OrderID:    orderID,
		UserID:     userID,
		From:       from,
		State:      to,
		ProductIDs: productIDs,
		OccurredAt: at,
	}
}

// Pending is an unprocessed event together with its failed attempt count.
type Pending struct {
	Lifecycle
	Attempts int
}

// Notification is what a dispatcher delivers to the order owner.
type Notification struct {
	EventID  uuid.UUID
	UserID   int64
	OrderID  int64
	State    string
	Artifact string
	SentAt   time.Time
}

// Recorder appends lifecycle events to durable storage inside the caller's
// transaction.
type Recorder interface {
	Append(ctx context.Context, e Lifecycle) error
}

// ReportGenerator renders an artifact for an order. It is best-effort: an
// empty reference with a nil error means nothing was produced.
type ReportGenerator interface {
	Generate(ctx context.Context, orderID int64) (string, error)
}

// NotificationDispatcher delivers a notification. Delivery may be repeated;
// consumers deduplicate by order id and state.
type NotificationDispatcher interface {
	Notify(ctx context.Context, n Notification) error
}
