package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

const DefaultRefreshInterval = 5 * time.Minute

// DataSource is the subset of API the Store depends on.
type DataSource interface {
	GetFeeds(ctx context.Context, filters domain.FilterOptions) ([]domain.ThreatFeed, error)
	GetIOCs(ctx context.Context, filters domain.FilterOptions) ([]domain.IOC, error)
	GetStats(ctx context.Context) (domain.ThreatStats, error)
	RefreshFeeds(ctx context.Context) (bool, error)
	DownloadExport(ctx context.Context, format string) ([]byte, error)
}

// Toaster surfaces short-lived success and error notices to the user.
type Toaster interface {
	Success(msg string)
	Error(msg string)
}

type nopToaster struct{}

func (nopToaster) Success(string) {}
func (nopToaster) Error(string)   {}

// Snapshot is the last successfully fetched data set.
type Snapshot struct {
	Feeds     []domain.ThreatFeed
	IOCs      []domain.IOC
	Stats     domain.ThreatStats
	UpdatedAt time.Time
}

// Store holds the dashboard state for one client session. Construct it with
// NewStore and tear it down with Stop.
type Store struct {
	api       DataSource
	toaster   Toaster
	logger    *zap.Logger
	interval  time.Duration
	exportDir string
	now       func() time.Time

	mu          sync.RWMutex
	snap        Snapshot
	inFlight    int
	filters     domain.FilterOptions
	searchQuery string
	started     uint64
	committed   uint64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

type StoreOption func(*Store)

func WithToaster(t Toaster) StoreOption {
	return func(s *Store) { s.toaster = t }
}

func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

func WithRefreshInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithExportDir(dir string) StoreOption {
	return func(s *Store) { s.exportDir = dir }
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(api DataSource, opts ...StoreOption) *Store {
	s := &Store{
		api:       api,
		toaster:   nopToaster{},
		logger:    zap.NewNop(),
		interval:  DefaultRefreshInterval,
		exportDir: ".",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start performs one refresh immediately and then one every interval until
// Stop is called or ctx ends. Calling Start on a running store is a no-op; once
// the loop has exited, for either reason, Start runs a new one.
func (s *Store) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
}

func (s *Store) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.release(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_ = s.RefreshData(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RefreshData(ctx)
		}
	}
}

// release forgets the loop owning done, unless Stop or a new Start already did.
func (s *Store) release(done chan struct{}) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.done != done {
		return
	}
	s.cancel()
	s.cancel, s.done = nil, nil
}

// Stop cancels the refresh loop and waits for it to exit.
func (s *Store) Stop() {
	s.lifecycleMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RefreshData fetches feeds, IOCs and stats concurrently and replaces the
// snapshot only if all three succeed. A refresh that finishes after a newer
// one has already committed is discarded silently.
func (s *Store) RefreshData(ctx context.Context) error {
	committed, err := s.refresh(ctx)
	if err != nil {
		s.logger.Warn("❌ Error refreshing data", zap.Error(err))
		s.toaster.Error("Failed to refresh data")
		return fmt.Errorf("refresh data: %w", err)
	}
	if committed {
		s.toaster.Success("Data refreshed successfully")
	}
	return nil
}

// refresh reports whether its result became the snapshot. It never toasts.
func (s *Store) refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	s.started++
	gen := s.started
	s.inFlight++
	filters := s.filters
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	var (
		feeds []domain.ThreatFeed
		iocs  []domain.IOC
		stats domain.ThreatStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		feeds, err = s.api.GetFeeds(gctx, filters)
		return err
	})
	g.Go(func() error {
		var err error
		iocs, err = s.api.GetIOCs(gctx, filters)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = s.api.GetStats(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.committed {
		s.logger.Debug("discarding stale refresh", zap.Uint64("generation", gen), zap.Uint64("committed", s.committed))
		return false, nil
	}
	s.snap = Snapshot{
		Feeds:     nonNil(feeds),
		IOCs:      nonNil(iocs),
		Stats:     stats,
		UpdatedAt: s.now(),
	}
	s.committed = gen
	return true, nil
}

// RefreshFeeds asks the server to re-collect and, only if that succeeds,
// pulls the new data. Either outcome produces exactly one toast.
func (s *Store) RefreshFeeds(ctx context.Context) error {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	ok, err := s.api.RefreshFeeds(ctx)
	if err == nil && !ok {
		err = errors.New("server reported an unsuccessful refresh")
	}
	if err == nil {
		_, err = s.refresh(ctx)
	}
	if err != nil {
		s.logger.Warn("❌ Error refreshing feeds", zap.Error(err))
		s.toaster.Error("Failed to refresh feeds")
		return fmt.Errorf("refresh feeds: %w", err)
	}

	s.toaster.Success("Feeds refreshed successfully")
	return nil
}

// ExportData downloads the JSON export into the export directory and returns
// the written path.
func (s *Store) ExportData(ctx context.Context) (string, error) {
	data, err := s.api.DownloadExport(ctx, "json")
	if err != nil {
		s.logger.Warn("❌ Error exporting data", zap.Error(err))
		s.toaster.Error("Failed to export data")
		return "", fmt.Errorf("export data: %w", err)
	}

	path := filepath.Join(s.exportDir, domain.ExportFilename(s.now(), "json"))
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		s.toaster.Error("Failed to export data")
		return "", fmt.Errorf("export data: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.toaster.Error("Failed to export data")
		return "", fmt.Errorf("export data: %w", err)
	}

	s.toaster.Success("Data exported successfully")
	return path, nil
}

// Snapshot returns copies of the current collections.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Feeds:     append([]domain.ThreatFeed{}, s.snap.Feeds...),
		IOCs:      append([]domain.IOC{}, s.snap.IOCs...),
		Stats:     s.snap.Stats,
		UpdatedAt: s.snap.UpdatedAt,
	}
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

func (s *Store) Filters() domain.FilterOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// SetFilters only affects the next refresh and the derived views.
func (s *Store) SetFilters(f domain.FilterOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = f
}

func (s *Store) SearchQuery() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchQuery
}

func (s *Store) SetSearchQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchQuery = q
}

// FilteredFeeds applies the current filters and search query to the snapshot.
func (s *Store) FilteredFeeds() []domain.ThreatFeed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ApplyFeeds(s.snap.Feeds, s.filters, s.searchQuery)
}

func (s *Store) FilteredIOCs() []domain.IOC {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ApplyIOCs(s.snap.IOCs, s.filters, s.searchQuery)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
