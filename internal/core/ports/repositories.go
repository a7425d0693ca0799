package ports

import (
	"context"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

type ThreatProvider interface {
	Collect(ctx context.Context) (domain.Collection, error)
	Name() string
}

type FeedRepository interface {
	SaveFeeds(ctx context.Context, feeds []domain.ThreatFeed) error
	ListFeeds(ctx context.Context) ([]domain.ThreatFeed, error)
	FindFeed(ctx context.Context, id string) (*domain.ThreatFeed, error)
}

type IOCRepository interface {
	SaveIOCs(ctx context.Context, iocs []domain.IOC) error
	ListIOCs(ctx context.Context) ([]domain.IOC, error)
	FindIOC(ctx context.Context, id string) (*domain.IOC, error)
	FindAllByValue(ctx context.Context, value string) ([]domain.IOC, error)
	FindContaining(ctx context.Context, value string) ([]domain.IOC, error)
	FindSince(ctx context.Context, since time.Time, limit int) ([]domain.IOC, error)
}

type SummaryRepository interface {
	SaveSummaries(ctx context.Context, summaries []domain.AISummary) error
	ListSummaries(ctx context.Context) ([]domain.AISummary, error)
}

type NotificationRepository interface {
	SaveNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

type SettingsRepository interface {
	LoadSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, s domain.Settings) error
}

// SourceRepository persists user-registered feed sources.
type SourceRepository interface {
	SaveSource(ctx context.Context, src domain.FeedSource) error
	ListSources(ctx context.Context) ([]domain.FeedSource, error)
}

// RevisionRepository exposes a counter that moves whenever feeds or IOCs are written.
type RevisionRepository interface {
	DataRevision(ctx context.Context) (int64, error)
}

// Repository is everything the threat service persists.
type Repository interface {
	RevisionRepository
	FeedRepository
	IOCRepository
	SummaryRepository
	NotificationRepository
	SettingsRepository
	SourceRepository
}

// ProviderFactory builds a provider for a user-registered source.
type ProviderFactory func(src domain.FeedSource) (ThreatProvider, error)
