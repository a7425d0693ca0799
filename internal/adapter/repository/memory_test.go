package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.Repository = (*MemoryRepository)(nil)
var _ ports.Repository = (*PostgresRepository)(nil)

func TestMemoryRepository_Seed(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Now()
	repo.Seed(now)
	ctx := context.Background()

	feeds, err := repo.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "Phishing Campaign Detected", feeds[0].Title, "newest first")

	iocs, err := repo.ListIOCs(ctx)
	require.NoError(t, err)
	require.Len(t, iocs, 2)
	assert.Equal(t, "192.168.1.50", iocs[0].Value)

	summaries, err := repo.ListSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestMemoryRepository_FindFeedNotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindFeed(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.FindIOC(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRepository_SaveIOCsMergesSightings(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first := domain.IOC{Type: domain.IPAddress, Value: "10.0.0.1", Source: "blocklist", Confidence: domain.ConfidenceLow, FirstSeen: 500}
	again := first
	again.FirstSeen = 200
	again.LastSeen = 900
	again.Confidence = domain.ConfidenceHigh

	require.NoError(t, repo.SaveIOCs(ctx, []domain.IOC{first}))
	require.NoError(t, repo.SaveIOCs(ctx, []domain.IOC{again}))

	iocs, err := repo.ListIOCs(ctx)
	require.NoError(t, err)
	require.Len(t, iocs, 1)
	assert.Equal(t, int64(200), iocs[0].FirstSeen)
	assert.Equal(t, int64(900), iocs[0].LastSeen)
	assert.Equal(t, domain.ConfidenceHigh, iocs[0].Confidence)
	assert.Equal(t, domain.IOCID(first), iocs[0].ID)

	found, err := repo.FindContaining(ctx, "0.0")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	since, err := repo.FindSince(ctx, time.UnixMilli(300), 10)
	require.NoError(t, err)
	assert.Empty(t, since)
}

func TestMemoryRepository_DataRevision(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rev := func() int64 {
		t.Helper()
		r, err := repo.DataRevision(ctx)
		require.NoError(t, err)
		return r
	}

	start := rev()
	require.NoError(t, repo.SaveFeeds(ctx, nil))
	assert.Equal(t, start, rev(), "empty writes leave the revision alone")

	require.NoError(t, repo.SaveFeeds(ctx, []domain.ThreatFeed{{ID: "f", Title: "t", Timestamp: 1}}))
	afterFeeds := rev()
	assert.Greater(t, afterFeeds, start)

	require.NoError(t, repo.SaveIOCs(ctx, []domain.IOC{{Type: domain.Domain, Value: "bad.example", Source: "s"}}))
	assert.Greater(t, rev(), afterFeeds)

	before := rev()
	require.NoError(t, repo.SaveSummaries(ctx, []domain.AISummary{{Content: "x"}}))
	require.NoError(t, repo.SaveNotification(ctx, domain.Notification{Title: "n"}))
	assert.Equal(t, before, rev(), "only feeds and IOCs feed the stats")
}

func TestMemoryRepository_SummariesCapped(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		batch := make([]domain.AISummary, MaxSummaries/2+1)
		for i := range batch {
			batch[i] = domain.AISummary{Type: domain.SummaryTypeSummary, Content: "s", Timestamp: int64(round*1000 + i)}
		}
		require.NoError(t, repo.SaveSummaries(ctx, batch))
	}

	all, err := repo.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, all, MaxSummaries)
	assert.Equal(t, int64(2000+MaxSummaries/2), all[0].Timestamp, "newest kept")
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Timestamp, all[i].Timestamp)
	}
	assert.Greater(t, all[len(all)-1].Timestamp, int64(1000), "oldest round evicted first")
}

func TestMemoryRepository_Notifications(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveNotification(ctx, domain.Notification{ID: "n1", Title: "old", Timestamp: 1}))
	require.NoError(t, repo.SaveNotification(ctx, domain.Notification{ID: "n2", Title: "new", Timestamp: 2}))
	require.NoError(t, repo.MarkNotificationRead(ctx, "n1"))
	assert.ErrorIs(t, repo.MarkNotificationRead(ctx, "nope"), domain.ErrNotFound)

	list, err := repo.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID)
	assert.True(t, list[1].Read)
}

func TestMemoryRepository_SettingsAndSources(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	s, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), s)

	s.Theme = "dark"
	require.NoError(t, repo.SaveSettings(ctx, s))
	got, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Theme)

	require.NoError(t, repo.SaveSource(ctx, domain.FeedSource{Name: "b", URL: "https://b.example/rss"}))
	require.NoError(t, repo.SaveSource(ctx, domain.FeedSource{Name: "a", URL: "https://a.example/rss"}))
	sources, err := repo.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "a", sources[0].Name)
}

func TestOpen_InMemory(t *testing.T) {
	ctx := context.Background()

	repo, closeFn, err := Open(ctx, "", true, nil)
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer closeFn()

	_, ok := repo.(*MemoryRepository)
	require.True(t, ok)
	feeds, err := repo.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 2)

	empty, _, err := Open(ctx, "", false, nil)
	require.NoError(t, err)
	feeds, err = empty.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Empty(t, feeds)
}
