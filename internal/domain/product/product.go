// Package product serves the buyer-facing product listing.
package product

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// AllProductsKey is the listing cache key of the buyer product listing.
const AllProductsKey = "allProducts"

// Product is an offer of a product by a shop.
type Product struct {
	StockUnitID int64
	ProductID   int64
	Name        string
	Category    string
	ShopID      int64
	Shop        string
	Quantity    int
	Price       decimal.Decimal
	PriceRetail decimal.NullDecimal
}

// Repository reads offers.
type Repository interface {
	// ListAvailable returns offers of active shops with stock on hand.
	ListAvailable(ctx context.Context) ([]Product, error)
	// ListByProducts returns available offers of the given products.
	ListByProducts(ctx context.Context, productIDs []int64) ([]Product, error)
}

// Cache caches listings. It has the same contract as order.ListCache.
type Cache interface {
	Load(ctx context.Context, key string, dst any, load func(ctx context.Context) (any, error)) error
}

// Ranker returns the most popular product ids.
type Ranker interface {
	Top(ctx context.Context, n int) ([]int64, error)
}

// Service lists products.
type Service struct {
	repo   Repository
	cache  Cache
	ranker Ranker
}

// NewService creates a product Service. cache may be nil.
func NewService(repo Repository, cache Cache, ranker Ranker) *Service {
	return &Service{repo: repo, cache: cache, ranker: ranker}
}

// List returns every available offer.
func (s *Service) List(ctx context.Context) ([]Product, error) {
	if s.cache == nil {
		return s.repo.ListAvailable(ctx)
	}
	var out []Product
	err := s.cache.Load(ctx, AllProductsKey, &out, func(ctx context.Context) (any, error) {
		return s.repo.ListAvailable(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// Top returns the available offers of the n most popular products, most
// popular first. Products without available offers are skipped.
func (s *Service) Top(ctx context.Context, n int) ([]Product, error) {
	ids, err := s.ranker.Top(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	offers, err := s.repo.ListByProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load top products: %w", err)
	}
	byProduct := make(map[int64][]Product, len(ids))
	for _, p := range offers {
		byProduct[p.ProductID] = append(byProduct[p.ProductID], p)
	}

	out := make([]Product, 0, len(offers))
	for _, id := range ids {
		out = append(out, byProduct[id]...)
	}
	return out, nil
}
