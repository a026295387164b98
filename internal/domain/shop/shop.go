// Package shop manages whether sellers' shops take orders.
package shop

import (
	"context"
	"fmt"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/product"
)

// Shop is a seller's storefront. Stock units of inactive shops are neither
// listed nor addable to carts.
type Shop struct {
	ID      int64
	Name    string
	OwnerID int64
	Active  bool
}

// Repository persists shops.
type Repository interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]Shop, error)
	// SetActive sets the flag on every shop of ownerID and reports how many
	// shops it covered.
	SetActive(ctx context.Context, ownerID int64, active bool) (int64, error)
}

// Invalidator drops cached listings.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Service reads and toggles the sale status of a seller.
type Service struct {
	repo  Repository
	cache Invalidator
}

// NewService creates a shop Service. cache may be nil.
func NewService(repo Repository, cache Invalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// Status returns the shops of the seller.
func (s *Service) Status(ctx context.Context, ownerID int64) ([]Shop, error) {
	shops, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	if len(shops) == 0 {
		return nil, fault.NotFoundf("shop status", "no shops found")
	}
	return shops, nil
}

// SetStatus opens or closes every shop of the seller and returns them.
func (s *Service) SetStatus(ctx context.Context, ownerID int64, active bool) ([]Shop, error) {
	n, err := s.repo.SetActive(ctx, ownerID, active)
	if err != nil {
		return nil, fmt.Errorf("set shop status: %w", err)
	}
	if n == 0 {
		return nil, fault.NotFoundf("set shop status", "no shops found")
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, product.AllProductsKey); err != nil {
			zctx.From(ctx).Warn("Product listing invalidation failed", zap.Error(err))
		}
	}
	zctx.From(ctx).Info("Shop status changed",
		zap.Int64("owner_id", ownerID),
		zap.Bool("active", active),
		zap.Int64("shops", n),
	)
	return s.Status(ctx, ownerID)
}
