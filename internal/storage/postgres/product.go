package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/inventory"
	"github.com/InnokentiyKim/Retail/internal/domain/product"
)

const (
	productColumns = `s.id, p.id, p.name, p.category, sh.id, sh.name, s.quantity, s.price, s.price_retail`

	productFrom = `FROM stock_units s
		JOIN products p ON p.id = s.product_id
		JOIN shops sh ON sh.id = s.shop_id`

	listAvailableProductsSQL = `SELECT ` + productColumns + ` ` + productFrom + `
		WHERE sh.is_active AND s.quantity > 0
		ORDER BY p.name, s.price, s.id`

	listProductsByIDsSQL = `SELECT ` + productColumns + ` ` + productFrom + `
		WHERE sh.is_active AND s.quantity > 0 AND p.id = ANY($1)
		ORDER BY s.price, s.id`

	listStockUnitsSQL = `SELECT s.id, s.product_id, p.name, s.shop_id, s.quantity, s.price,
		s.price_retail, sh.is_active
		` + productFrom + `
		WHERE s.id = ANY($1)`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ inventory.Catalog  = (*ProductRepository)(nil)
)

// ProductRepository reads offers and stock units backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// ListAvailable returns offers of active shops with stock on hand.
func (r *ProductRepository) ListAvailable(ctx context.Context) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listAvailableProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// ListByProducts returns available offers of the given products.
func (r *ProductRepository) ListByProducts(ctx context.Context, productIDs []int64) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listProductsByIDsSQL, productIDs)
	if err != nil {
		return nil, fmt.Errorf("listing products by id: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products by id: %w", err)
	}
	return products, nil
}

// StockUnits returns the stock units with the given ids.
func (r *ProductRepository) StockUnits(ctx context.Context, ids []int64) ([]inventory.StockUnit, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listStockUnitsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("listing stock units: %w", err)
	}
	units, err := pgx.CollectRows(rows, scanStockUnit)
	if err != nil {
		return nil, fmt.Errorf("listing stock units: %w", err)
	}
	return units, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p   product.Product
		qty int32
	)
	err := row.Scan(
		&p.StockUnitID, &p.ProductID, &p.Name, &p.Category, &p.ShopID, &p.Shop,
		&qty, &p.Price, &p.PriceRetail,
	)
	p.Quantity = int(qty)
	return p, err
}

func scanStockUnit(row pgx.CollectableRow) (inventory.StockUnit, error) {
	var (
		u   inventory.StockUnit
		qty int32
	)
	err := row.Scan(
		&u.ID, &u.ProductID, &u.ProductName, &u.ShopID, &qty, &u.Price,
		&u.PriceRetail, &u.Active,
	)
	u.Quantity = int(qty)
	return u, err
}
