package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/event"
)

const (
	appendEventSQL = `INSERT INTO order_events
		(id, order_id, user_id, from_state, to_state, product_ids, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	claimEventSQL = `SELECT id, order_id, user_id, from_state, to_state, product_ids, occurred_at, attempts
		FROM order_events
		WHERE processed_at IS NULL AND attempts < $1
		ORDER BY occurred_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	markEventDoneSQL = `UPDATE order_events SET processed_at = $2, last_error = '' WHERE id = $1`

	markEventFailedSQL = `UPDATE order_events
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND processed_at IS NULL`
)

var _ event.Recorder = (*OutboxRepository)(nil)

// OutboxRepository stores lifecycle events in the order_events table.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Append inserts e in the transaction carried by ctx, so the event exists
// only if the transition commits.
func (r *OutboxRepository) Append(ctx context.Context, e event.Lifecycle) error {
	productIDs := e.ProductIDs
	if productIDs == nil {
		productIDs = []int64{}
	}
	_, err := conn(ctx, r.pool).Exec(ctx, appendEventSQL,
		e.ID, e.OrderID, e.UserID, e.From, e.State, productIDs, e.OccurredAt)
	if err != nil {
		return classify(err, "append order event", "")
	}
	return nil
}

// ClaimNext locks the oldest unprocessed event with fewer than maxAttempts
// attempts. Rows locked by other relays are skipped. It returns false when
// nothing is pending. The lock lasts until the caller's transaction ends.
func (r *OutboxRepository) ClaimNext(ctx context.Context, maxAttempts int) (event.Pending, bool, error) {
	var (
		p        event.Pending
		attempts int32
	)
	err := conn(ctx, r.pool).QueryRow(ctx, claimEventSQL, maxAttempts).Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.From, &p.State, &p.ProductIDs, &p.OccurredAt, &attempts,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Pending{}, false, nil
		}
		return event.Pending{}, false, fmt.Errorf("claiming order event: %w", err)
	}
	p.Attempts = int(attempts)
	return p, true, nil
}

// MarkDone records that the event was handled.
func (r *OutboxRepository) MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, markEventDoneSQL, id, at); err != nil {
		return fmt.Errorf("marking event %s done: %w", id, err)
	}
	return nil
}

// MarkFailed counts a failed attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, markEventFailedSQL, id, reason); err != nil {
		return fmt.Errorf("marking event %s failed: %w", id, err)
	}
	return nil
}
