package ports

import (
	"context"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

// Notifier defines the interface for sending notifications to external systems
type Notifier interface {
	// NotifyThreat announces a new high priority feed item
	NotifyThreat(ctx context.Context, feed domain.ThreatFeed) error

	// NotifyIOC announces a new high-confidence indicator
	NotifyIOC(ctx context.Context, ioc domain.IOC) error
}

// Broadcaster pushes realtime events to connected dashboard clients.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}
