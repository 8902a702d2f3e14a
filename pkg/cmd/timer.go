package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/persistence"
)

// NewTimer indexes wakeups in redis when redisURL is set and in the store otherwise.
// The returned close function releases the redis connection.
func NewTimer(
	ctx context.Context,
	redisURL string,
	store persistence.Persistence,
	logger *slog.Logger,
) (delay.Timer, func() error, error) {
	if redisURL == "" {
		return delay.NewStoreTimer(store), func() error { return nil }, nil
	}

	client, err := delay.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}

	logger.InfoContext(ctx, "Indexing wakeups in Redis")

	return delay.NewRedisTimer(client, delay.DefaultRedisPrefix), client.Close, nil
}
