package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

// MemoryRepository keeps everything in process memory. It backs the API when
// no database is configured and is what the tests run against.
type MemoryRepository struct {
	mu            sync.RWMutex
	feeds         map[string]domain.ThreatFeed
	iocs          map[string]domain.IOC
	iocIDs        map[string]string
	summaries     []domain.AISummary
	notifications []domain.Notification
	settings      domain.Settings
	sources       map[string]domain.FeedSource
	revision      int64
}

// MaxSummaries caps how many AI summaries are kept, newest first.
const MaxSummaries = 50

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		feeds:    make(map[string]domain.ThreatFeed),
		iocs:     make(map[string]domain.IOC),
		iocIDs:   make(map[string]string),
		settings: domain.DefaultSettings(),
		sources:  make(map[string]domain.FeedSource),
	}
}

// Seed loads the demo dataset, timestamped relative to now.
func (r *MemoryRepository) Seed(now time.Time) {
	ms := now.UnixMilli()
	feeds := []domain.ThreatFeed{
		{
			ID:        "1",
			Title:     "Phishing Campaign Detected",
			Summary:   "A large-scale phishing campaign targeting financial institutions was detected.",
			Source:    "ThreatFeed1",
			Severity:  domain.SeverityHigh,
			Tags:      []string{"phishing", "banking"},
			Timestamp: ms - 3600000,
		},
		{
			ID:        "2",
			Title:     "Ransomware Variant Analysis",
			Summary:   "Analysis of a new ransomware variant shows similarities with REvil family.",
			Source:    "ThreatFeed2",
			Severity:  domain.SeverityMedium,
			Tags:      []string{"ransomware", "malware"},
			Timestamp: ms - 7200000,
		},
	}
	iocs := []domain.IOC{
		{ID: "1", Type: domain.IPAddress, Value: "192.168.1.50", Source: "ThreatFeed1", Confidence: domain.ConfidenceHigh, FirstSeen: ms - 5000000},
		{ID: "2", Type: domain.Domain, Value: "malicious-site.com", Source: "ThreatFeed2", Confidence: domain.ConfidenceMedium, FirstSeen: ms - 8000000},
	}
	summaries := []domain.AISummary{
		{ID: "1", Type: domain.SummaryTypeSummary, Content: "Threat activity is increasing in phishing campaigns targeting banks.", Timestamp: ms, Confidence: 80},
		{ID: "2", Type: domain.SummaryTypeTrend, Content: "Ransomware activity remains active with variants showing similarities to REvil.", Timestamp: ms, Confidence: 70},
	}

	ctx := context.Background()
	_ = r.SaveFeeds(ctx, feeds)
	_ = r.SaveIOCs(ctx, iocs)
	_ = r.SaveSummaries(ctx, summaries)
}

func (r *MemoryRepository) SaveFeeds(_ context.Context, feeds []domain.ThreatFeed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range feeds {
		if f.ID == "" {
			f.ID = domain.FeedID(f)
		}
		r.feeds[f.ID] = f
	}
	if len(feeds) > 0 {
		r.revision++
	}
	return nil
}

func (r *MemoryRepository) DataRevision(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision, nil
}

func (r *MemoryRepository) ListFeeds(_ context.Context) ([]domain.ThreatFeed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ThreatFeed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) FindFeed(_ context.Context, id string) (*domain.ThreatFeed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.feeds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &f, nil
}

func (r *MemoryRepository) SaveIOCs(_ context.Context, iocs []domain.IOC) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ioc := range iocs {
		if id, ok := r.iocIDs[ioc.Key()]; ok {
			existing := r.iocs[id]
			existing.Confidence = ioc.Confidence
			if ioc.FirstSeen != 0 && ioc.FirstSeen < existing.FirstSeen {
				existing.FirstSeen = ioc.FirstSeen
			}
			if ioc.LastSeen > existing.LastSeen {
				existing.LastSeen = ioc.LastSeen
			}
			r.iocs[id] = existing
			continue
		}
		if ioc.ID == "" {
			ioc.ID = domain.IOCID(ioc)
		}
		r.iocs[ioc.ID] = ioc
		r.iocIDs[ioc.Key()] = ioc.ID
	}
	if len(iocs) > 0 {
		r.revision++
	}
	return nil
}

func (r *MemoryRepository) sortedIOCs(keep func(domain.IOC) bool) []domain.IOC {
	out := []domain.IOC{}
	for _, ioc := range r.iocs {
		if keep(ioc) {
			out = append(out, ioc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen != out[j].FirstSeen {
			return out[i].FirstSeen > out[j].FirstSeen
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRepository) ListIOCs(_ context.Context) ([]domain.IOC, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIOCs(func(domain.IOC) bool { return true }), nil
}

func (r *MemoryRepository) FindIOC(_ context.Context, id string) (*domain.IOC, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ioc, ok := r.iocs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ioc, nil
}

func (r *MemoryRepository) FindAllByValue(_ context.Context, value string) ([]domain.IOC, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIOCs(func(i domain.IOC) bool { return i.Value == value }), nil
}

func (r *MemoryRepository) FindContaining(_ context.Context, value string) ([]domain.IOC, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.sortedIOCs(func(i domain.IOC) bool { return strings.Contains(i.Value, value) })
	if len(out) > 100 {
		out = out[:100]
	}
	return out, nil
}

func (r *MemoryRepository) FindSince(_ context.Context, since time.Time, limit int) ([]domain.IOC, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := since.UnixMilli()
	out := r.sortedIOCs(func(i domain.IOC) bool { return i.FirstSeen >= cutoff })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) SaveSummaries(_ context.Context, summaries []domain.AISummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range summaries {
		if s.ID == "" {
			s.ID = domain.NewID()
		}
		r.summaries = append(r.summaries, s)
	}
	sort.SliceStable(r.summaries, func(i, j int) bool { return r.summaries[i].Timestamp > r.summaries[j].Timestamp })
	if len(r.summaries) > MaxSummaries {
		r.summaries = r.summaries[:MaxSummaries:MaxSummaries]
	}
	return nil
}

func (r *MemoryRepository) ListSummaries(_ context.Context) ([]domain.AISummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AISummary, len(r.summaries))
	copy(out, r.summaries)
	return out, nil
}

func (r *MemoryRepository) SaveNotification(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.ID == "" {
		n.ID = domain.NewID()
	}
	for i := range r.notifications {
		if r.notifications[i].ID == n.ID {
			r.notifications[i] = n
			return nil
		}
	}
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *MemoryRepository) ListNotifications(_ context.Context) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Notification, len(r.notifications))
	copy(out, r.notifications)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

func (r *MemoryRepository) MarkNotificationRead(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.notifications {
		if r.notifications[i].ID == id {
			r.notifications[i].Read = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *MemoryRepository) LoadSettings(_ context.Context) (domain.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.settings
	if r.settings.Sources != nil {
		s.Sources = make([]domain.FeedSource, len(r.settings.Sources))
		copy(s.Sources, r.settings.Sources)
	}
	return s, nil
}

func (r *MemoryRepository) SaveSettings(_ context.Context, s domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
	return nil
}

func (r *MemoryRepository) SaveSource(_ context.Context, src domain.FeedSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.Name] = src
	return nil
}

func (r *MemoryRepository) ListSources(_ context.Context) ([]domain.FeedSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.FeedSource, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
