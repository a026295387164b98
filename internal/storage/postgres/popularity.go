package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/ranking"
)

const (
	incrementPopularitySQL = `INSERT INTO product_popularity (product_id, score)
		SELECT id, count(*) FROM unnest($1::bigint[]) AS t(id) GROUP BY id
		ON CONFLICT (product_id) DO UPDATE SET score = product_popularity.score + EXCLUDED.score`

	topPopularitySQL = `SELECT product_id, score FROM product_popularity
		ORDER BY score DESC, product_id
		LIMIT NULLIF($1::int, 0)`
)

var _ ranking.Store = (*PopularityRepository)(nil)

// PopularityRepository is the durable popularity store.
type PopularityRepository struct {
	pool *pgxpool.Pool
}

// NewPopularityRepository returns a PopularityRepository that uses the given pool.
func NewPopularityRepository(pool *pgxpool.Pool) *PopularityRepository {
	return &PopularityRepository{pool: pool}
}

// Increment adds one point per entry of productIDs.
func (r *PopularityRepository) Increment(ctx context.Context, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	if _, err := conn(ctx, r.pool).Exec(ctx, incrementPopularitySQL, productIDs); err != nil {
		return classify(err, "increment popularity", "")
	}
	return nil
}

// Top returns up to n scores, highest first. n <= 0 returns every score.
func (r *PopularityRepository) Top(ctx context.Context, n int) ([]ranking.Score, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, topPopularitySQL, max(n, 0))
	if err != nil {
		return nil, fmt.Errorf("listing popularity: %w", err)
	}
	scores, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ranking.Score, error) {
		var (
			s     ranking.Score
			score int64
		)
		err := row.Scan(&s.ProductID, &score)
		s.Score = float64(score)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing popularity: %w", err)
	}
	return scores, nil
}
