package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/shop"
)

const (
	listShopsByOwnerSQL = `SELECT id, name, owner_id, is_active FROM shops WHERE owner_id = $1 ORDER BY id`

	setShopsActiveSQL = `UPDATE shops SET is_active = $2 WHERE owner_id = $1`
)

var _ shop.Repository = (*ShopRepository)(nil)

// ShopRepository implements shop.Repository backed by PostgreSQL.
type ShopRepository struct {
	pool *pgxpool.Pool
}

// NewShopRepository returns a ShopRepository that uses the given pool.
func NewShopRepository(pool *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{pool: pool}
}

// ListByOwner returns the shops of ownerID.
func (r *ShopRepository) ListByOwner(ctx context.Context, ownerID int64) ([]shop.Shop, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listShopsByOwnerSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing shops of user %d: %w", ownerID, err)
	}
	shops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shop.Shop, error) {
		var s shop.Shop
		err := row.Scan(&s.ID, &s.Name, &s.OwnerID, &s.Active)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing shops of user %d: %w", ownerID, err)
	}
	return shops, nil
}

// SetActive sets is_active on every shop of ownerID.
func (r *ShopRepository) SetActive(ctx context.Context, ownerID int64, active bool) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, setShopsActiveSQL, ownerID, active)
	if err != nil {
		return 0, classify(err, "set shop status", "")
	}
	return tag.RowsAffected(), nil
}
