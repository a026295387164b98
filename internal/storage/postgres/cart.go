package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/cart"
	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/order"
)

const (
	createCartSQL = `INSERT INTO orders (user_id) VALUES ($1)
		ON CONFLICT (user_id) WHERE state = 'PREPARING' DO NOTHING`

	findCartSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN coupons c ON c.id = o.coupon_id
		WHERE o.user_id = $1 AND o.state = 'PREPARING'`

	lockCartSQL = findCartSQL + ` FOR SHARE OF o`

	upsertLinesSQL = `INSERT INTO order_lines (order_id, stock_unit_id, quantity)
		SELECT $1, unit, qty FROM unnest($2::bigint[], $3::int[]) AS t(unit, qty)
		WHERE EXISTS (SELECT 1 FROM orders WHERE id = $1 AND state = 'PREPARING')
		ON CONFLICT (order_id, stock_unit_id) DO UPDATE SET quantity = EXCLUDED.quantity`

	setLineQuantitySQL = `UPDATE order_lines l SET quantity = $3
		FROM orders o
		WHERE o.id = l.order_id AND o.state = 'PREPARING' AND l.order_id = $1 AND l.id = $2`

	deleteLinesSQL = `DELETE FROM order_lines l
		USING orders o
		WHERE o.id = l.order_id AND o.state = 'PREPARING' AND l.order_id = $1 AND l.id = ANY($2)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetOrCreateCart inserts the user's cart unless one exists and returns it.
// The partial unique index on PREPARING orders makes concurrent calls
// converge on a single row.
func (r *CartRepository) GetOrCreateCart(ctx context.Context, userID int64) (*order.Order, error) {
	q := conn(ctx, r.pool)
	if _, err := q.Exec(ctx, createCartSQL, userID); err != nil {
		return nil, classify(err, "create cart", "")
	}
	return r.FindCart(ctx, userID)
}

// FindCart returns the user's PREPARING order.
func (r *CartRepository) FindCart(ctx context.Context, userID int64) (*order.Order, error) {
	return r.findCart(ctx, findCartSQL, userID)
}

// LockCart returns the user's PREPARING order and share-locks its row. A
// concurrent confirmation holding the row makes it wait and then report no
// active cart.
func (r *CartRepository) LockCart(ctx context.Context, userID int64) (*order.Order, error) {
	return r.findCart(ctx, lockCartSQL, userID)
}

func (r *CartRepository) findCart(ctx context.Context, query string, userID int64) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("finding cart of user %d: %w", userID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		return nil, classify(err, "find cart", "no active cart")
	}
	return &o, nil
}

// UpsertLines inserts lines or overwrites the quantity of existing ones.
// Orders past PREPARING are left untouched.
func (r *CartRepository) UpsertLines(ctx context.Context, orderID int64, items []cart.Item) error {
	units := make([]int64, len(items))
	qtys := make([]int32, len(items))
	for i, it := range items {
		units[i] = it.StockUnitID
		qtys[i] = int32(it.Quantity)
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, upsertLinesSQL, orderID, units, qtys)
	if err != nil {
		return classify(err, "upsert lines", "")
	}
	if len(items) > 0 && tag.RowsAffected() == 0 {
		return fault.NotFoundf("upsert lines", "order %d is not an active cart", orderID)
	}
	return nil
}

// SetLineQuantity updates one line of the cart.
func (r *CartRepository) SetLineQuantity(ctx context.Context, orderID, lineID int64, quantity int) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setLineQuantitySQL, orderID, lineID, quantity)
	if err != nil {
		return classify(err, "set line quantity", "")
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFoundf("set line quantity", "line %d not found in cart", lineID)
	}
	return nil
}

// DeleteLines removes lines of the cart and reports how many matched.
func (r *CartRepository) DeleteLines(ctx context.Context, orderID int64, lineIDs []int64) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteLinesSQL, orderID, lineIDs)
	if err != nil {
		return 0, fmt.Errorf("deleting lines of order %d: %w", orderID, err)
	}
	return tag.RowsAffected(), nil
}

// Lines returns the cart lines priced at current unit prices.
func (r *CartRepository) Lines(ctx context.Context, orderID int64) ([]order.Line, error) {
	return listLines(ctx, conn(ctx, r.pool), orderID)
}
