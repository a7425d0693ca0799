package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

// Open connects to Postgres and applies the schema when dbURL is set, and
// falls back to an in-memory store otherwise. seed loads the demo dataset into
// the in-memory store only. The returned close func is never nil.
func Open(ctx context.Context, dbURL string, seed bool, logger *zap.Logger) (ports.Repository, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dbURL == "" {
		logger.Warn("⚠️ No database configured, using in-memory repository")
		repo := NewMemoryRepository()
		if seed {
			repo.Seed(time.Now())
			logger.Info("🌱 Demo data loaded")
		}
		return repo, func() {}, nil
	}

	logger.Info("🔌 Database connection...")
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	repo := NewPostgresRepository(pool)
	if err := repo.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("✅ Database ready")
	return repo, pool.Close, nil
}
