// Package redis implements the popularity counter and the listing cache on
// Redis.
package redis

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to the Redis server at url (redis://host:port/db) and
// verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}
