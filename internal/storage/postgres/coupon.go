package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

const (
	couponColumns = `id, code, discount, valid_from, valid_to, active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	lockCouponByCodeSQL = getCouponByCodeSQL + ` FOR SHARE`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY id`

	createCouponSQL = `INSERT INTO coupons (code, discount, valid_from, valid_to, active)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	updateCouponSQL = `UPDATE coupons
		SET code = $2, discount = $3, valid_from = $4, valid_to = $5, active = $6
		WHERE id = $1`

	deleteCouponsSQL = `DELETE FROM coupons WHERE id = ANY($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount, valid_from, valid_to, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			discount = EXCLUDED.discount,
			valid_from = EXCLUDED.valid_from,
			valid_to = EXCLUDED.valid_to,
			active = EXCLUDED.active`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive) regardless of
// its active flag. Inside a transaction the row is share-locked until it ends.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	query := getCouponByCodeSQL
	if inTx(ctx) {
		query = lockCouponByCodeSQL
	}
	rows, err := conn(ctx, r.pool).Query(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		return nil, classify(err, "find coupon", fmt.Sprintf("coupon %q not found", code))
	}
	return &c, nil
}

// List returns every coupon.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return coupons, nil
}

// Create inserts c and sets its id.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	err := conn(ctx, r.pool).QueryRow(ctx, createCouponSQL,
		c.Code, c.Discount, c.ValidFrom, c.ValidTo, c.Active,
	).Scan(&c.ID)
	if err != nil {
		return classify(err, "create coupon", "")
	}
	return nil
}

// Update overwrites the coupon with c.ID.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Discount, c.ValidFrom, c.ValidTo, c.Active)
	if err != nil {
		return classify(err, "update coupon", "")
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFoundf("update coupon", "coupon %d not found", c.ID)
	}
	return nil
}

// Delete removes coupons. Coupons referenced by an order cannot be deleted.
func (r *CouponRepository) Delete(ctx context.Context, ids []int64) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteCouponsSQL, ids)
	if err != nil {
		return 0, classify(err, "delete coupons", "")
	}
	return tag.RowsAffected(), nil
}

// UpsertBatch inserts or updates coupons by code in one round trip.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL, c.Code, c.Discount, c.ValidFrom, c.ValidTo, c.Active)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, batch).Close(); err != nil {
		return classify(err, "upsert coupons", "")
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c        coupon.Coupon
		discount int32
	)
	err := row.Scan(&c.ID, &c.Code, &discount, &c.ValidFrom, &c.ValidTo, &c.Active)
	c.Discount = int(discount)
	return c, err
}
