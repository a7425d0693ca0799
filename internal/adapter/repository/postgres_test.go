package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a disposable database named by THREATDECK_TEST_DATABASE_URL.
func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("THREATDECK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("THREATDECK_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE feeds, iocs, ai_summaries, notifications, settings, feed_sources`)
	require.NoError(t, err)
	return repo
}

func TestPostgresRepository_RoundTrip(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()

	feed := domain.ThreatFeed{Title: "Botnet", Source: "rss", Severity: domain.SeverityCritical, Timestamp: 10}
	require.NoError(t, repo.SaveFeeds(ctx, []domain.ThreatFeed{feed}))

	feeds, err := repo.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, domain.FeedID(feed), feeds[0].ID)
	assert.Equal(t, []string{}, feeds[0].Tags)

	ioc := domain.IOC{Type: domain.URL, Value: "http://198.0.2.12/malware.sh", Source: "urlhaus", Confidence: domain.ConfidenceHigh, FirstSeen: 100}
	require.NoError(t, repo.SaveIOCs(ctx, []domain.IOC{ioc, ioc}))

	found, err := repo.FindContaining(ctx, "198.0.2.12")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = repo.FindIOC(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	s, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), s)
}

func TestPostgresRepository_RevisionAndSummaryCap(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()

	before, err := repo.DataRevision(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.SaveFeeds(ctx, []domain.ThreatFeed{{Title: "Botnet", Source: "rss", Severity: domain.SeverityLow, Timestamp: 1}}))
	after, err := repo.DataRevision(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before)

	batch := make([]domain.AISummary, MaxSummaries+5)
	for i := range batch {
		batch[i] = domain.AISummary{Type: domain.SummaryTypeTrend, Content: "c", Timestamp: int64(i)}
	}
	require.NoError(t, repo.SaveSummaries(ctx, batch))

	all, err := repo.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, all, MaxSummaries)
	assert.Equal(t, int64(MaxSummaries+4), all[0].Timestamp)
}
