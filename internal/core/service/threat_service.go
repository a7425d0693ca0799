package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

const (
	statsCachePrefix = "stats:"
	// StatsCacheTTL only evicts entries for revisions nobody asks about any more.
	StatsCacheTTL = 10 * time.Minute

	DefaultTrendDays     = 30
	MaxTrendDays         = 365
	DefaultTopThreats    = 10
	MaxTopThreats        = 100
	maxIOCNotifications  = 20
	summaryInputMaxFeeds = 50
)

// Event types pushed through the Broadcaster.
const (
	EventRefresh      = "refresh"
	EventSummaries    = "ai-summaries"
	EventNotification = "notification"
	EventSettings     = "settings"
)

var (
	ErrNoSummarizer = errors.New("no summarizer configured")
	ErrNoProviders  = errors.New("no providers configured")
)

// Pinger is implemented by adapters that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ThreatService is the backend behind every dashboard endpoint.
type ThreatService struct {
	repo        ports.Repository
	collector   *Collector
	summarizer  ports.Summarizer
	cache       ports.Cache
	notifier    ports.Notifier
	broadcaster ports.Broadcaster
	factory     ports.ProviderFactory
	validate    *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
	version     string

	providersMu sync.RWMutex
	providers   []ports.ThreatProvider
	custom      map[string]ports.ThreatProvider

	refreshMu sync.Mutex

	statsKeyMu sync.Mutex
	lastStats  string
}

type Option func(*ThreatService)

func WithSummarizer(s ports.Summarizer) Option {
	return func(svc *ThreatService) { svc.summarizer = s }
}

func WithCache(c ports.Cache) Option {
	return func(svc *ThreatService) { svc.cache = c }
}

func WithNotifier(n ports.Notifier) Option {
	return func(svc *ThreatService) { svc.notifier = n }
}

func WithBroadcaster(b ports.Broadcaster) Option {
	return func(svc *ThreatService) { svc.broadcaster = b }
}

func WithProviderFactory(f ports.ProviderFactory) Option {
	return func(svc *ThreatService) { svc.factory = f }
}

func WithProviders(providers ...ports.ThreatProvider) Option {
	return func(svc *ThreatService) { svc.providers = append(svc.providers, providers...) }
}

func WithCollector(c *Collector) Option {
	return func(svc *ThreatService) { svc.collector = c }
}

func WithClock(now func() time.Time) Option {
	return func(svc *ThreatService) { svc.now = now }
}

func WithVersion(v string) Option {
	return func(svc *ThreatService) { svc.version = v }
}

func NewThreatService(repo ports.Repository, logger *zap.Logger, opts ...Option) *ThreatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ThreatService{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
		custom:   make(map[string]ports.ThreatProvider),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.collector == nil {
		svc.collector = NewCollector(repo, logger)
	}
	return svc
}

// LoadCustomSources registers a provider for every persisted enabled source.
// Sources whose type has no provider are logged and skipped.
func (s *ThreatService) LoadCustomSources(ctx context.Context) error {
	if s.factory == nil {
		return nil
	}
	sources, err := s.repo.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list custom sources: %w", err)
	}
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		p, err := s.factory(src)
		if err != nil {
			s.logger.Warn("⚠️ Skipping custom source", zap.String("source", src.Name), zap.Error(err))
			continue
		}
		s.registerCustom(src.Name, p)
	}
	return nil
}

func (s *ThreatService) registerCustom(name string, p ports.ThreatProvider) {
	s.providersMu.Lock()
	defer s.providersMu.Unlock()
	s.custom[name] = p
}

func (s *ThreatService) activeProviders() []ports.ThreatProvider {
	s.providersMu.RLock()
	defer s.providersMu.RUnlock()

	out := make([]ports.ThreatProvider, 0, len(s.providers)+len(s.custom))
	out = append(out, s.providers...)
	for _, p := range s.custom {
		out = append(out, p)
	}
	return out
}

func (s *ThreatService) Feeds(ctx context.Context, opts domain.FilterOptions) ([]domain.ThreatFeed, error) {
	feeds, err := s.repo.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return domain.FilterFeeds(feeds, opts), nil
}

func (s *ThreatService) Feed(ctx context.Context, id string) (*domain.ThreatFeed, error) {
	return s.repo.FindFeed(ctx, id)
}

func (s *ThreatService) IOCs(ctx context.Context, opts domain.FilterOptions) ([]domain.IOC, error) {
	iocs, err := s.repo.ListIOCs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list IOCs: %w", err)
	}
	return domain.FilterIOCs(iocs, opts), nil
}

func (s *ThreatService) IOC(ctx context.Context, id string) (*domain.IOC, error) {
	return s.repo.FindIOC(ctx, id)
}

// Lookup returns every stored sighting of an exact indicator value.
func (s *ThreatService) Lookup(ctx context.Context, value string) ([]domain.IOC, error) {
	return s.repo.FindAllByValue(ctx, value)
}

func (s *ThreatService) snapshot(ctx context.Context) ([]domain.ThreatFeed, []domain.IOC, error) {
	feeds, err := s.repo.ListFeeds(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	iocs, err := s.repo.ListIOCs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list IOCs: %w", err)
	}
	return feeds, iocs, nil
}

// statsEntry is what the stats cache holds for one data revision. Recent keeps
// the timestamps that may still fall inside the recent window, so that counter
// and LastUpdated are recomputed for every request.
type statsEntry struct {
	Stats  domain.ThreatStats `json:"stats"`
	Recent []int64            `json:"recent"`
}

// Stats reflects the repository at the time of the request. Results are cached
// per data revision, so any write to feeds or IOCs is visible on the next call,
// including writes made by another process. Cache failures only log.
func (s *ThreatService) Stats(ctx context.Context) (domain.ThreatStats, error) {
	now := s.now()
	key, cacheable := s.statsKey(ctx)
	if cacheable {
		var entry statsEntry
		found, err := s.cache.Get(ctx, key, &entry)
		if err != nil {
			s.logger.Warn("⚠️ Stats cache read failed", zap.Error(err))
		} else if found {
			return entry.at(now), nil
		}
	}

	feeds, iocs, err := s.snapshot(ctx)
	if err != nil {
		return domain.ThreatStats{}, err
	}
	stats := domain.ComputeStats(feeds, iocs, now)

	if cacheable {
		entry := statsEntry{Stats: stats, Recent: recentTimestamps(feeds, now)}
		if err := s.cache.Set(ctx, key, entry, StatsCacheTTL); err != nil {
			s.logger.Warn("⚠️ Stats cache write failed", zap.Error(err))
		} else {
			s.evictStats(ctx, key)
		}
	}
	return stats, nil
}

// evictStats drops the entry of the revision key replaced.
func (s *ThreatService) evictStats(ctx context.Context, key string) {
	s.statsKeyMu.Lock()
	prev := s.lastStats
	s.lastStats = key
	s.statsKeyMu.Unlock()

	if prev == "" || prev == key {
		return
	}
	if err := s.cache.Delete(ctx, prev); err != nil {
		s.logger.Warn("⚠️ Stale stats eviction failed", zap.Error(err))
	}
}

func (s *ThreatService) statsKey(ctx context.Context) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	rev, err := s.repo.DataRevision(ctx)
	if err != nil {
		s.logger.Warn("⚠️ Data revision unavailable, computing stats directly", zap.Error(err))
		return "", false
	}
	return fmt.Sprintf("%s%d", statsCachePrefix, rev), true
}

func recentTimestamps(feeds []domain.ThreatFeed, now time.Time) []int64 {
	cutoff := now.Add(-domain.RecentWindow).UnixMilli()
	out := []int64{}
	for _, f := range feeds {
		if f.Timestamp >= cutoff {
			out = append(out, f.Timestamp)
		}
	}
	return out
}

func (e statsEntry) at(now time.Time) domain.ThreatStats {
	stats := e.Stats
	stats.LastUpdated = now.UTC().Format(time.RFC3339)
	cutoff := now.Add(-domain.RecentWindow).UnixMilli()
	stats.RecentThreats = 0
	for _, ts := range e.Recent {
		if ts >= cutoff {
			stats.RecentThreats++
		}
	}
	return stats
}

// Export assembles the full dashboard bundle.
func (s *ThreatService) Export(ctx context.Context) (domain.ExportBundle, error) {
	feeds, iocs, err := s.snapshot(ctx)
	if err != nil {
		return domain.ExportBundle{}, err
	}
	summaries, err := s.repo.ListSummaries(ctx)
	if err != nil {
		return domain.ExportBundle{}, fmt.Errorf("failed to list summaries: %w", err)
	}

	now := s.now()
	return domain.ExportBundle{
		Feeds:       feeds,
		IOCs:        iocs,
		AISummaries: summaries,
		Stats:       domain.ComputeStats(feeds, iocs, now),
		ExportDate:  now.UTC().Format(time.RFC3339),
	}, nil
}

// Search runs a free-text query over the selected scope. An empty scope means all.
func (s *ThreatService) Search(ctx context.Context, query string, scope domain.SearchScope) (domain.SearchResult, error) {
	if scope == "" {
		scope = domain.ScopeAll
	}
	if !scope.Valid() {
		return domain.SearchResult{}, fmt.Errorf("%w: unknown search type %q", domain.ErrInvalidInput, scope)
	}

	result := domain.SearchResult{Feeds: []domain.ThreatFeed{}, IOCs: []domain.IOC{}}
	if scope != domain.ScopeIOCs {
		feeds, err := s.repo.ListFeeds(ctx)
		if err != nil {
			return domain.SearchResult{}, fmt.Errorf("failed to list feeds: %w", err)
		}
		result.Feeds = domain.SearchFeeds(feeds, query)
	}
	if scope != domain.ScopeFeeds {
		iocs, err := s.repo.ListIOCs(ctx)
		if err != nil {
			return domain.SearchResult{}, fmt.Errorf("failed to list IOCs: %w", err)
		}
		result.IOCs = domain.SearchIOCs(iocs, query)
	}
	return result, nil
}

// Refresh re-collects every provider. Concurrent calls are serialised.
func (s *ThreatService) Refresh(ctx context.Context) (CollectResult, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	providers := s.activeProviders()
	if len(providers) == 0 {
		return CollectResult{}, ErrNoProviders
	}

	result := s.collector.Collect(ctx, providers)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.updateSourceStatus(ctx, result.Failed)
	s.announce(ctx, result)
	s.broadcast(EventRefresh, result)

	if len(result.Failed) == len(providers) {
		return result, fmt.Errorf("all %d providers failed", len(providers))
	}
	return result, nil
}

func (s *ThreatService) updateSourceStatus(ctx context.Context, failed []string) {
	sources, err := s.repo.ListSources(ctx)
	if err != nil {
		s.logger.Warn("⚠️ Could not list custom sources", zap.Error(err))
		return
	}

	failedSet := make(map[string]bool, len(failed))
	for _, name := range failed {
		failedSet[name] = true
	}

	checked := s.now().UTC().Format(time.RFC3339)
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		src.LastCheck = checked
		src.Status = domain.SourceActive
		if failedSet[src.Name] {
			src.Status = domain.SourceError
		}
		if err := s.repo.SaveSource(ctx, src); err != nil {
			s.logger.Warn("⚠️ Could not update source status", zap.String("source", src.Name), zap.Error(err))
		}
	}
}

// announce records dashboard notifications for new high priority items and
// forwards them to the external notifier when notifications are enabled.
func (s *ThreatService) announce(ctx context.Context, result CollectResult) {
	settings, err := s.repo.LoadSettings(ctx)
	if err != nil {
		s.logger.Warn("⚠️ Could not load settings", zap.Error(err))
		settings = domain.DefaultSettings()
	}

	for _, feed := range result.NewHighPriority {
		kind := domain.NotificationWarning
		if feed.Severity == domain.SeverityCritical {
			kind = domain.NotificationError
		}
		n := domain.Notification{
			Type:    kind,
			Title:   fmt.Sprintf("New %s threat", feed.Severity),
			Message: feed.Title,
		}
		if feed.URL != "" {
			n.Action = &domain.NotificationAction{Label: "View", URL: feed.URL}
		}
		s.notify(ctx, n)

		if settings.Notifications && s.notifier != nil {
			if err := s.notifier.NotifyThreat(ctx, feed); err != nil {
				s.logger.Warn("⚠️ Threat notification failed", zap.String("feed", feed.ID), zap.Error(err))
			}
		}
	}

	if len(result.NewHighConfidence) > 0 {
		s.notify(ctx, domain.Notification{
			Type:    domain.NotificationInfo,
			Title:   "New high-confidence IOCs",
			Message: fmt.Sprintf("%d new high-confidence indicators collected", len(result.NewHighConfidence)),
		})
	}
	if settings.Notifications && s.notifier != nil {
		for i, ioc := range result.NewHighConfidence {
			if i >= maxIOCNotifications {
				break
			}
			if err := s.notifier.NotifyIOC(ctx, ioc); err != nil {
				s.logger.Warn("⚠️ IOC notification failed", zap.String("value", ioc.Value), zap.Error(err))
			}
		}
	}

	s.notify(ctx, domain.Notification{
		Type:    domain.NotificationSuccess,
		Title:   "Feeds refreshed",
		Message: fmt.Sprintf("Collected %d feed items and %d IOCs", result.Feeds, result.IOCs),
	})
}

func (s *ThreatService) notify(ctx context.Context, n domain.Notification) {
	if n.ID == "" {
		n.ID = domain.NewID()
	}
	if n.Timestamp == 0 {
		n.Timestamp = s.now().UnixMilli()
	}
	if err := s.repo.SaveNotification(ctx, n); err != nil {
		s.logger.Warn("⚠️ Could not save notification", zap.Error(err))
		return
	}
	s.broadcast(EventNotification, n)
}

func (s *ThreatService) broadcast(event string, payload any) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(event, payload)
	}
}

// AddCustomFeed validates and persists a user source and starts collecting it
// on the next refresh.
func (s *ThreatService) AddCustomFeed(ctx context.Context, src domain.FeedSource) (domain.FeedSource, error) {
	if src.Type == "" {
		src.Type = domain.SourceRSS
	}
	if err := s.validate.Struct(src); err != nil {
		return domain.FeedSource{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if s.factory == nil {
		return domain.FeedSource{}, fmt.Errorf("%w: custom feeds are not supported", domain.ErrInvalidInput)
	}

	p, err := s.factory(src)
	if err != nil {
		return domain.FeedSource{}, err
	}

	src.Enabled = true
	src.Status = domain.SourceActive
	if err := s.repo.SaveSource(ctx, src); err != nil {
		return domain.FeedSource{}, fmt.Errorf("failed to save source: %w", err)
	}
	s.registerCustom(src.Name, p)

	s.logger.Info("➕ Custom feed registered", zap.String("name", src.Name), zap.String("url", src.URL))
	s.notify(ctx, domain.Notification{
		Type:    domain.NotificationInfo,
		Title:   "Custom feed added",
		Message: src.Name,
	})
	return src, nil
}

func (s *ThreatService) Summaries(ctx context.Context) ([]domain.AISummary, error) {
	return s.repo.ListSummaries(ctx)
}

// GenerateSummaries asks the summarizer for a fresh set and stores it.
func (s *ThreatService) GenerateSummaries(ctx context.Context) ([]domain.AISummary, error) {
	if s.summarizer == nil {
		return nil, ErrNoSummarizer
	}

	feeds, iocs, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	in := ports.SummaryInput{
		Feeds: domain.RecentThreatFeeds(feeds, summaryInputMaxFeeds),
		IOCs:  iocs,
		Stats: domain.ComputeStats(feeds, iocs, s.now()),
	}

	summaries, err := s.summarizer.Summarize(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to generate summaries: %w", err)
	}
	if err := s.repo.SaveSummaries(ctx, summaries); err != nil {
		return nil, fmt.Errorf("failed to save summaries: %w", err)
	}

	s.broadcast(EventSummaries, summaries)
	return summaries, nil
}

func (s *ThreatService) Trends(ctx context.Context, days int) ([]domain.TrendPoint, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	days = min(days, MaxTrendDays)

	feeds, iocs, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Trends(feeds, iocs, days, s.now()), nil
}

func (s *ThreatService) ThreatMap(ctx context.Context) ([]domain.SourceActivity, error) {
	feeds, iocs, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ThreatMap(feeds, iocs), nil
}

func (s *ThreatService) TopThreats(ctx context.Context, limit int) ([]domain.ThreatFeed, error) {
	if limit <= 0 {
		limit = DefaultTopThreats
	}
	limit = min(limit, MaxTopThreats)

	feeds, err := s.repo.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return domain.TopThreats(feeds, limit), nil
}

func (s *ThreatService) Notifications(ctx context.Context) ([]domain.Notification, error) {
	return s.repo.ListNotifications(ctx)
}

func (s *ThreatService) MarkNotificationRead(ctx context.Context, id string) error {
	return s.repo.MarkNotificationRead(ctx, id)
}

func (s *ThreatService) Settings(ctx context.Context) (domain.Settings, error) {
	return s.repo.LoadSettings(ctx)
}

func (s *ThreatService) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if settings.Sources == nil {
		settings.Sources = []domain.FeedSource{}
	}
	if err := s.validate.Struct(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	s.broadcast(EventSettings, settings)
	return settings, nil
}

// Health pings the repository and cache when they support it.
func (s *ThreatService) Health(ctx context.Context) domain.Health {
	h := domain.Health{
		Status:  "OK",
		Time:    s.now().UTC().Format(time.RFC3339),
		Checks:  map[string]string{},
		Version: s.version,
	}

	check := func(name string, target any) {
		p, ok := target.(Pinger)
		if !ok {
			return
		}
		if err := p.Ping(ctx); err != nil {
			h.Checks[name] = err.Error()
			h.Status = "DEGRADED"
			return
		}
		h.Checks[name] = "ok"
	}
	check("database", s.repo)
	if s.cache != nil {
		check("cache", s.cache)
	}
	return h
}
