package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/InnokentiyKim/Retail/internal/domain/auth"
)

const (
	upsertUserSQL = `INSERT INTO users (email, full_name, role) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET full_name = EXCLUDED.full_name, role = EXCLUDED.role
		RETURNING id`

	upsertShopSQL = `INSERT INTO shops (name, owner_id, is_active) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner_id = EXCLUDED.owner_id, is_active = EXCLUDED.is_active
		RETURNING id`

	upsertProductSQL = `INSERT INTO products (name, category) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET category = EXCLUDED.category
		RETURNING id`

	upsertStockUnitSQL = `INSERT INTO stock_units (product_id, shop_id, quantity, price, price_retail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, shop_id) DO UPDATE SET quantity = EXCLUDED.quantity,
			price = EXCLUDED.price, price_retail = EXCLUDED.price_retail
		RETURNING id`
)

// Seeder upserts catalog fixtures. Every method is idempotent and returns
// the id of the stored row.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// User upserts a user by email.
func (s *Seeder) User(ctx context.Context, email, fullName string, role auth.Role) (int64, error) {
	return s.upsert(ctx, "upsert user "+email, upsertUserSQL, email, fullName, string(role))
}

// Shop upserts a shop by name.
func (s *Seeder) Shop(ctx context.Context, name string, ownerID int64, active bool) (int64, error) {
	return s.upsert(ctx, "upsert shop "+name, upsertShopSQL, name, ownerID, active)
}

// Product upserts a product by name.
func (s *Seeder) Product(ctx context.Context, name, category string) (int64, error) {
	return s.upsert(ctx, "upsert product "+name, upsertProductSQL, name, category)
}

// StockUnit upserts the offer of a product by a shop.
func (s *Seeder) StockUnit(ctx context.Context, productID, shopID int64, quantity int, price decimal.Decimal, retail decimal.NullDecimal) (int64, error) {
	return s.upsert(ctx, "upsert stock unit", upsertStockUnitSQL, productID, shopID, quantity, price, retail)
}

func (s *Seeder) upsert(ctx context.Context, op, sql string, args ...any) (int64, error) {
	var id int64
	if err := conn(ctx, s.pool).QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, errors.Wrap(err, op)
	}
	return id, nil
}
