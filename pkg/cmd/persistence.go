package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
)

// connectTimeout bounds how long startup waits for the database to accept connections.
const connectTimeout = 30 * time.Second

// NewPersistence opens the store named by databaseURL. postgres:// and postgresql://
// URLs select PostgreSQL, file:// or a bare path selects the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		return backoff.Retry(ctx, func() (persistence.Persistence, error) {
			p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
			if err != nil {
				logger.WarnContext(ctx, "Database not ready", "error", err)

				return nil, err
			}

			return p, nil
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(connectTimeout),
		)
	case "file":
		if location == "" {
			return nil, fmt.Errorf("file persistence needs a directory: %q", databaseURL)
		}

		return file.NewPersistence(location), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, location, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, location
}
