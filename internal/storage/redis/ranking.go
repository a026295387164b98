package redis

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/InnokentiyKim/Retail/internal/domain/ranking"
)

// PopularKey is the sorted set holding product popularity.
const PopularKey = "popular_products"

var (
	_ ranking.Store  = (*Counter)(nil)
	_ ranking.Seeder = (*Counter)(nil)
)

// Counter is a popularity counter on a Redis sorted set.
type Counter struct {
	rdb redis.UniversalClient
	key string
}

// NewCounter returns a Counter on PopularKey.
func NewCounter(rdb redis.UniversalClient) *Counter {
	return &Counter{rdb: rdb, key: PopularKey}
}

// Increment adds one point per entry of productIDs in a single MULTI.
func (c *Counter) Increment(ctx context.Context, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range productIDs {
			pipe.ZIncrBy(ctx, c.key, 1, strconv.FormatInt(id, 10))
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "zincrby")
	}
	return nil
}

// Top returns up to n members with the highest scores. n <= 0 returns all.
func (c *Counter) Top(ctx context.Context, n int) ([]ranking.Score, error) {
	stop := int64(n) - 1
	if n <= 0 {
		stop = -1
	}
	zs, err := c.rdb.ZRevRangeWithScores(ctx, c.key, 0, stop).Result()
	if err != nil {
		return nil, errors.Wrap(err, "zrevrange")
	}
	out := make([]ranking.Score, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse member %q", member)
		}
		out = append(out, ranking.Score{ProductID: id, Score: z.Score})
	}
	return out, nil
}

// Seed replaces the sorted set with scores atomically.
func (c *Counter) Seed(ctx context.Context, scores []ranking.Score) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key)
		if len(scores) == 0 {
			return nil
		}
		members := make([]redis.Z, len(scores))
		for i, s := range scores {
			members[i] = redis.Z{Score: s.Score, Member: strconv.FormatInt(s.ProductID, 10)}
		}
		pipe.ZAdd(ctx, c.key, members...)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "seed popularity")
	}
	return nil
}
