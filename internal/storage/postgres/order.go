package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/order"
)

const (
	orderColumns = `o.id, o.user_id, o.state, o.contact_id, o.coupon_id, COALESCE(c.code, ''),
		o.total, o.created_at, o.updated_at`

	getOrderSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN coupons c ON c.id = o.coupon_id
		WHERE o.id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE OF o`

	listOrderLinesSQL = `SELECT l.id, l.order_id, l.stock_unit_id, s.product_id, p.name, s.shop_id,
		l.quantity, s.price
		FROM order_lines l
		JOIN stock_units s ON s.id = l.stock_unit_id
		JOIN products p ON p.id = s.product_id
		WHERE l.order_id = $1
		ORDER BY l.id`

	placeOrderSQL = `UPDATE orders
		SET state = $2, contact_id = $3, coupon_id = $4, total = $5, updated_at = $6
		WHERE id = $1`

	setOrderStateSQL = `UPDATE orders SET state = $2, updated_at = now() WHERE id = $1`

	listBuyerOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN coupons c ON c.id = o.coupon_id
		WHERE o.user_id = $1 AND o.state <> 'PREPARING'
		ORDER BY o.created_at DESC, o.id DESC`

	listSellerOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN coupons c ON c.id = o.coupon_id
		WHERE o.state <> 'PREPARING' AND EXISTS (
			SELECT 1 FROM order_lines l
			JOIN stock_units s ON s.id = l.stock_unit_id
			JOIN shops sh ON sh.id = s.shop_id
			WHERE l.order_id = o.id AND sh.owner_id = $1)
		ORDER BY o.created_at DESC, o.id DESC`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetForUpdate loads an order and locks its row. It must run inside a
// transaction for the lock to outlive the statement.
func (r *OrderRepository) GetForUpdate(ctx context.Context, orderID int64) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, orderID)
}

// Get loads an order without its lines.
func (r *OrderRepository) Get(ctx context.Context, orderID int64) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, orderID)
}

func (r *OrderRepository) get(ctx context.Context, sql string, orderID int64) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		return nil, classify(err, "get order", fmt.Sprintf("order %d not found", orderID))
	}
	return &o, nil
}

// Lines returns the lines of an order priced at current unit prices.
func (r *OrderRepository) Lines(ctx context.Context, orderID int64) ([]order.Line, error) {
	return listLines(ctx, conn(ctx, r.pool), orderID)
}

// Place stores the outcome of a confirmation.
func (r *OrderRepository) Place(ctx context.Context, o *order.Order) error {
	_, err := conn(ctx, r.pool).Exec(ctx, placeOrderSQL,
		o.ID, string(o.State), o.ContactID, o.CouponID, o.Total, o.UpdatedAt)
	if err != nil {
		return classify(err, fmt.Sprintf("place order %d", o.ID), "")
	}
	return nil
}

// SetState writes a new state.
func (r *OrderRepository) SetState(ctx context.Context, orderID int64, state order.State) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, setOrderStateSQL, orderID, string(state)); err != nil {
		return classify(err, fmt.Sprintf("set state of order %d", orderID), "")
	}
	return nil
}

// ListByBuyer returns the buyer's placed orders, newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, userID int64) ([]order.Order, error) {
	return r.list(ctx, listBuyerOrdersSQL, userID)
}

// ListBySeller returns placed orders with lines from the seller's shops.
func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID int64) ([]order.Order, error) {
	return r.list(ctx, listSellerOrdersSQL, sellerID)
}

func (r *OrderRepository) list(ctx context.Context, sql string, userID int64) ([]order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %d: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %d: %w", userID, err)
	}
	return orders, nil
}

func listLines(ctx context.Context, q querier, orderID int64) ([]order.Line, error) {
	rows, err := q.Query(ctx, listOrderLinesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %d: %w", orderID, err)
	}
	lines, err := pgx.CollectRows(rows, scanLine)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %d: %w", orderID, err)
	}
	return lines, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o     order.Order
		state string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &state, &o.ContactID, &o.CouponID, &o.CouponCode,
		&o.Total, &o.CreatedAt, &o.UpdatedAt,
	)
	o.State = order.State(state)
	return o, err
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var l order.Line
	err := row.Scan(
		&l.ID, &l.OrderID, &l.StockUnitID, &l.ProductID, &l.ProductName, &l.ShopID,
		&l.Quantity, &l.UnitPrice,
	)
	return l, err
}
