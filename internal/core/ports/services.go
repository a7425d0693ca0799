package ports

import (
	"context"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

// SummaryInput is the material a summarizer works from.
type SummaryInput struct {
	Feeds []domain.ThreatFeed
	IOCs  []domain.IOC
	Stats domain.ThreatStats
}

type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) ([]domain.AISummary, error)
}

// Cache stores JSON-serialisable values. Get reports whether the key was found.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Exporter renders an export bundle in one wire format.
type Exporter interface {
	Export(ctx context.Context, bundle domain.ExportBundle) ([]byte, error)
	Format() string
	ContentType() string
}
