package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

var _ DataSource = (*API)(nil)

type fakeSource struct {
	mu       sync.Mutex
	feeds    []domain.ThreatFeed
	iocs     []domain.IOC
	stats    domain.ThreatStats
	statsErr error
	// gate, when set, blocks GetStats until a value is received
	gate      chan struct{}
	refreshOK bool
	refreshEr error
	export    []byte

	feedCalls    int32
	refreshCalls int32
	lastFilters  domain.FilterOptions
}

func (f *fakeSource) GetFeeds(_ context.Context, filters domain.FilterOptions) ([]domain.ThreatFeed, error) {
	atomic.AddInt32(&f.feedCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilters = filters
	return append([]domain.ThreatFeed{}, f.feeds...), nil
}

func (f *fakeSource) GetIOCs(context.Context, domain.FilterOptions) ([]domain.IOC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.IOC{}, f.iocs...), nil
}

func (f *fakeSource) GetStats(ctx context.Context) (domain.ThreatStats, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.ThreatStats{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.statsErr
}

func (f *fakeSource) RefreshFeeds(context.Context) (bool, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	return f.refreshOK, f.refreshEr
}

func (f *fakeSource) DownloadExport(context.Context, string) ([]byte, error) {
	if f.export == nil {
		return nil, errors.New("export unavailable")
	}
	return f.export, nil
}

type recordingToaster struct {
	mu      sync.Mutex
	success []string
	errors  []string
}

func (r *recordingToaster) Success(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = append(r.success, msg)
}

func (r *recordingToaster) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func seededSource() *fakeSource {
	return &fakeSource{
		feeds: []domain.ThreatFeed{
			{ID: "1", Severity: domain.SeverityHigh, Source: "ThreatFeed1", Tags: []string{"phishing", "banking"}, Timestamp: 1000},
			{ID: "2", Severity: domain.SeverityMedium, Source: "ThreatFeed2", Tags: []string{"ransomware"}, Timestamp: 2000},
		},
		iocs: []domain.IOC{
			{ID: "1", Type: domain.IPAddress, Value: "192.168.1.50", Source: "ThreatFeed1", Confidence: domain.ConfidenceHigh, FirstSeen: 500},
		},
		stats:     domain.ThreatStats{TotalFeeds: 2, TotalIOCs: 1},
		refreshOK: true,
	}
}

func TestRefreshData_CommitsSnapshot(t *testing.T) {
	src := seededSource()
	toasts := &recordingToaster{}
	store := NewStore(src, WithToaster(toasts))

	require.NoError(t, store.RefreshData(context.Background()))

	snap := store.Snapshot()
	assert.Len(t, snap.Feeds, 2)
	assert.Len(t, snap.IOCs, 1)
	assert.Equal(t, 2, snap.Stats.TotalFeeds)
	assert.False(t, snap.UpdatedAt.IsZero())
	assert.False(t, store.Loading())
	assert.Equal(t, []string{"Data refreshed successfully"}, toasts.success)
}

func TestRefreshData_FailureKeepsPreviousSnapshot(t *testing.T) {
	src := seededSource()
	toasts := &recordingToaster{}
	store := NewStore(src, WithToaster(toasts))
	require.NoError(t, store.RefreshData(context.Background()))
	before := store.Snapshot()

	src.mu.Lock()
	src.feeds = append(src.feeds, domain.ThreatFeed{ID: "3"})
	src.statsErr = errors.New("boom")
	src.mu.Unlock()

	err := store.RefreshData(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, store.Snapshot())
	assert.False(t, store.Loading())
	assert.Equal(t, []string{"Failed to refresh data"}, toasts.errors)
}

func TestRefreshData_UsesCurrentFilters(t *testing.T) {
	src := seededSource()
	store := NewStore(src)
	store.SetFilters(domain.FilterOptions{Severity: domain.SeverityHigh})

	require.NoError(t, store.RefreshData(context.Background()))
	assert.Equal(t, domain.SeverityHigh, src.lastFilters.Severity)
	assert.Equal(t, domain.SeverityHigh, store.Filters().Severity)
}

func TestRefreshData_StaleResultDiscarded(t *testing.T) {
	src := seededSource()
	gate := make(chan struct{})
	src.gate = gate
	toasts := &recordingToaster{}
	store := NewStore(src, WithToaster(toasts))

	// first refresh blocks in GetStats
	firstDone := make(chan error, 1)
	go func() { firstDone <- store.RefreshData(context.Background()) }()
	require.Eventually(t, store.Loading, time.Second, 5*time.Millisecond)

	// second refresh starts later and commits first
	src.mu.Lock()
	src.gate = nil
	src.stats = domain.ThreatStats{TotalFeeds: 99}
	src.mu.Unlock()
	require.NoError(t, store.RefreshData(context.Background()))
	assert.Equal(t, 99, store.Snapshot().Stats.TotalFeeds)

	// the older one finishes with whatever stats it reads, but must not overwrite
	src.mu.Lock()
	src.stats = domain.ThreatStats{TotalFeeds: 1}
	src.mu.Unlock()
	close(gate)
	require.NoError(t, <-firstDone)

	assert.Equal(t, 99, store.Snapshot().Stats.TotalFeeds)
	assert.False(t, store.Loading())
	assert.Equal(t, []string{"Data refreshed successfully"}, toasts.success, "a discarded refresh announces nothing")
	assert.Empty(t, toasts.errors)
}

func TestRefreshFeeds(t *testing.T) {
	t.Run("success pulls new data", func(t *testing.T) {
		src := seededSource()
		toasts := &recordingToaster{}
		store := NewStore(src, WithToaster(toasts))

		require.NoError(t, store.RefreshFeeds(context.Background()))
		assert.Equal(t, int32(1), atomic.LoadInt32(&src.refreshCalls))
		assert.Equal(t, int32(1), atomic.LoadInt32(&src.feedCalls))
		assert.Equal(t, []string{"Feeds refreshed successfully"}, toasts.success)
		assert.False(t, store.Loading())
	})

	t.Run("refetch failure toasts once", func(t *testing.T) {
		src := seededSource()
		src.statsErr = errors.New("stats down")
		toasts := &recordingToaster{}
		store := NewStore(src, WithToaster(toasts))

		require.Error(t, store.RefreshFeeds(context.Background()))
		assert.Equal(t, []string{"Failed to refresh feeds"}, toasts.errors)
		assert.Empty(t, toasts.success)
		assert.False(t, store.Loading())
	})

	t.Run("server failure skips refetch", func(t *testing.T) {
		src := seededSource()
		src.refreshEr = errors.New("503")
		toasts := &recordingToaster{}
		store := NewStore(src, WithToaster(toasts))

		require.Error(t, store.RefreshFeeds(context.Background()))
		assert.Equal(t, int32(0), atomic.LoadInt32(&src.feedCalls))
		assert.Equal(t, []string{"Failed to refresh feeds"}, toasts.errors)
		assert.Empty(t, store.Snapshot().Feeds)
	})

	t.Run("unsuccessful flag skips refetch", func(t *testing.T) {
		src := seededSource()
		src.refreshOK = false
		store := NewStore(src)

		require.Error(t, store.RefreshFeeds(context.Background()))
		assert.Equal(t, int32(0), atomic.LoadInt32(&src.feedCalls))
	})
}

func TestExportData(t *testing.T) {
	dir := t.TempDir()
	src := seededSource()
	src.export = []byte(`{"feeds":[]}`)
	clock := func() time.Time { return time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC) }
	store := NewStore(src, WithExportDir(dir), WithStoreClock(clock))

	path, err := store.ExportData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "threat-intelligence-export-2024-03-10.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"feeds":[]}`, string(data))

	src.export = nil
	toasts := &recordingToaster{}
	failing := NewStore(src, WithExportDir(dir), WithToaster(toasts))
	_, err = failing.ExportData(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"Failed to export data"}, toasts.errors)
}

func TestFilteredViews(t *testing.T) {
	store := NewStore(seededSource())
	require.NoError(t, store.RefreshData(context.Background()))

	assert.Len(t, store.FilteredFeeds(), 2)

	store.SetSearchQuery("feed")
	assert.Len(t, store.FilteredFeeds(), 2)

	store.SetSearchQuery("BANKING")
	feeds := store.FilteredFeeds()
	require.Len(t, feeds, 1)
	assert.Equal(t, "1", feeds[0].ID)

	store.SetSearchQuery("")
	store.SetFilters(domain.FilterOptions{Severity: domain.SeverityMedium})
	feeds = store.FilteredFeeds()
	require.Len(t, feeds, 1)
	assert.Equal(t, "2", feeds[0].ID)

	store.SetFilters(domain.FilterOptions{IOCType: domain.IPAddress})
	assert.Len(t, store.FilteredIOCs(), 1)
	assert.Equal(t, "", store.SearchQuery())
}

func TestStartStop(t *testing.T) {
	src := seededSource()
	store := NewStore(src, WithRefreshInterval(10*time.Millisecond))

	store.Start(context.Background())
	store.Start(context.Background())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&src.feedCalls) >= 3 }, 2*time.Second, 5*time.Millisecond)

	store.Stop()
	calls := atomic.LoadInt32(&src.feedCalls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&src.feedCalls))

	store.Stop()
}

func TestStartAfterParentCancelled(t *testing.T) {
	src := seededSource()
	store := NewStore(src, WithRefreshInterval(time.Hour))

	parent, cancel := context.WithCancel(context.Background())
	store.Start(parent)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&src.feedCalls) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	// the dead loop must not block a fresh Start
	require.Eventually(t, func() bool {
		store.Start(context.Background())
		return atomic.LoadInt32(&src.feedCalls) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	store.Stop()
	store.Stop()
}
