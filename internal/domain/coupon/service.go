package coupon

import (
	"context"
	"fmt"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

// Service administers coupons on behalf of managers.
type Service struct {
	repo Repository
}

// NewService creates a coupon administration Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns every coupon ordered by code.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	coupons, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	return coupons, nil
}

// Create validates and stores a new coupon. A duplicate code is a Conflict.
func (s *Service) Create(ctx context.Context, c *Coupon) error {
	if err := c.Check(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return fmt.Errorf("create coupon: %w", err)
	}
	return nil
}

// Update replaces the administrative fields of an existing coupon.
func (s *Service) Update(ctx context.Context, c *Coupon) error {
	if c.ID <= 0 {
		return fault.Validationf("update coupon", "id is required")
	}
	if err := c.Check(); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	return nil
}

// Delete removes the given coupons and reports how many were deleted.
// Coupons referenced by a placed order cannot be deleted.
func (s *Service) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, fault.Validationf("delete coupons", "ids required")
	}
	n, err := s.repo.Delete(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete coupons: %w", err)
	}
	return n, nil
}
