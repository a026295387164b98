// Package ranking maintains product popularity counters.
//
// Every recorded order line adds one point to its product. Scores are kept in
// a fast counter (a Redis sorted set) backed by a durable table; reads fall
// back to the durable store when the counter is unavailable or cold.
package ranking

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Score is a product and its popularity.
type Score struct {
	ProductID int64
	Score     float64
}

// Store is a sorted popularity counter. Top with n <= 0 returns every entry.
// Order among equal scores is unspecified.
type Store interface {
	Increment(ctx context.Context, productIDs []int64) error
	Top(ctx context.Context, n int) ([]Score, error)
}

// Seeder replaces the counter contents.
type Seeder interface {
	Seed(ctx context.Context, scores []Score) error
}

// Ranker records sales and answers top-N queries.
type Ranker interface {
	Record(ctx context.Context, productIDs []int64) error
	Top(ctx context.Context, n int) ([]int64, error)
}

var _ Ranker = (*Service)(nil)

// Service implements Ranker over a counter and a durable store.
type Service struct {
	counter Store
	durable Store
}

// NewService creates a ranking Service. durable may be nil.
func NewService(counter, durable Store) *Service {
	return &Service{counter: counter, durable: durable}
}

// Record adds one point per entry of productIDs. Duplicates count separately.
func (s *Service) Record(ctx context.Context, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	if s.durable != nil {
		if err := s.durable.Increment(ctx, productIDs); err != nil {
			return errors.Wrap(err, "increment durable scores")
		}
	}
	if err := s.counter.Increment(ctx, productIDs); err != nil {
		if s.durable == nil {
			return errors.Wrap(err, "increment scores")
		}
		zctx.From(ctx).Warn("Popularity counter increment failed", zap.Error(err))
	}
	return nil
}

// Top returns up to n product ids ordered by descending popularity.
func (s *Service) Top(ctx context.Context, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	scores, err := s.counter.Top(ctx, n)
	switch {
	case err == nil && (len(scores) > 0 || s.durable == nil):
		return ids(scores), nil
	case err != nil && s.durable == nil:
		return nil, errors.Wrap(err, "top scores")
	case err != nil:
		zctx.From(ctx).Warn("Popularity counter unavailable, reading durable scores", zap.Error(err))
	}

	scores, err = s.durable.Top(ctx, n)
	if err != nil {
		return nil, errors.Wrap(err, "top durable scores")
	}
	return ids(scores), nil
}

// Warm copies durable scores into the counter when it supports seeding.
func (s *Service) Warm(ctx context.Context) error {
	seeder, ok := s.counter.(Seeder)
	if !ok || s.durable == nil {
		return nil
	}
	scores, err := s.durable.Top(ctx, 0)
	if err != nil {
		return errors.Wrap(err, "load durable scores")
	}
	if err := seeder.Seed(ctx, scores); err != nil {
		return errors.Wrap(err, "seed counter")
	}
	return nil
}

func ids(scores []Score) []int64 {
	out := make([]int64, len(scores))
	for i, sc := range scores {
		out[i] = sc.ProductID
	}
	return out
}
