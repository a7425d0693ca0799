package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/adapter/metrics"
	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

const (
	DefaultBatchSize     = 2000
	DefaultFlushInterval = 5 * time.Second
)

// CollectResult summarises one collection run.
type CollectResult struct {
	Feeds    int      `json:"feeds"`
	IOCs     int      `json:"iocs"`
	Failed   []string `json:"failed"`
	Duration string   `json:"duration"`

	// NewHighPriority holds critical/high feeds that were not stored before this run.
	NewHighPriority []domain.ThreatFeed `json:"-"`
	// NewHighConfidence holds high-confidence IOCs that were not stored before this run.
	NewHighConfidence []domain.IOC `json:"-"`
}

type collected struct {
	feed *domain.ThreatFeed
	ioc  *domain.IOC
}

type collectorStore interface {
	ports.FeedRepository
	ports.IOCRepository
}

// Collector runs providers concurrently and persists what they return in batches.
type Collector struct {
	repo          collectorStore
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
}

func NewCollector(repo collectorStore, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Collector{
		repo:          repo,
		logger:        logger,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
	}
}

// WithBatching overrides batch size and flush interval. Non-positive values keep the defaults.
func (c *Collector) WithBatching(size int, interval time.Duration) *Collector {
	if size > 0 {
		c.batchSize = size
	}
	if interval > 0 {
		c.flushInterval = interval
	}
	return c
}

// Collect fans out to every provider. A failing provider is logged and
// reported in Failed; it does not stop the others.
func (c *Collector) Collect(ctx context.Context, providers []ports.ThreatProvider) CollectResult {
	start := time.Now()
	items := make(chan collected, c.batchSize)

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []string
	)

	c.logger.Info("🚀 Threat intel collection started", zap.Int("providers", len(providers)))
	for _, p := range providers {
		wg.Add(1)
		go func(p ports.ThreatProvider) {
			defer wg.Done()
			c.logger.Debug("📥 Downloading feed", zap.String("provider", p.Name()))

			runStart := time.Now()
			col, err := p.Collect(ctx)
			metrics.RecordProviderRun(p.Name(), time.Since(runStart), err)
			if err != nil {
				c.logger.Warn("❌ Failed to download feed", zap.String("provider", p.Name()), zap.Error(err))
				failedMu.Lock()
				failed = append(failed, p.Name())
				failedMu.Unlock()
				return
			}

			c.logger.Info("✅ Provider returned data",
				zap.String("provider", p.Name()),
				zap.Int("feeds", len(col.Feeds)),
				zap.Int("iocs", len(col.IOCs)))
			metrics.RecordCollected(p.Name(), len(col.Feeds), len(col.IOCs))

			for i := range col.Feeds {
				select {
				case items <- collected{feed: &col.Feeds[i]}:
				case <-ctx.Done():
					return
				}
			}
			for i := range col.IOCs {
				select {
				case items <- collected{ioc: &col.IOCs[i]}:
				case <-ctx.Done():
					return
				}
			}
		}(p)
	}

	go func() {
		wg.Wait()
		close(items)
	}()

	result := c.persist(ctx, items)

	failedMu.Lock()
	result.Failed = append([]string{}, failed...)
	failedMu.Unlock()
	result.Duration = time.Since(start).Round(time.Millisecond).String()

	c.logger.Info("🏁 Threat intel collection finished",
		zap.Int("feeds", result.Feeds),
		zap.Int("iocs", result.IOCs),
		zap.Strings("failed", result.Failed),
		zap.String("duration", result.Duration))
	return result
}

func (c *Collector) persist(ctx context.Context, items <-chan collected) CollectResult {
	var (
		result CollectResult
		feeds  []domain.ThreatFeed
		iocs   []domain.IOC
	)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	flush := func(reason string) {
		if len(feeds) > 0 {
			result.NewHighPriority = append(result.NewHighPriority, c.newHighPriority(ctx, feeds)...)
			if err := c.repo.SaveFeeds(ctx, feeds); err != nil {
				c.logger.Error("❌ Error saving feed batch", zap.String("reason", reason), zap.Error(err))
			} else {
				result.Feeds += len(feeds)
			}
			feeds = nil
		}
		if len(iocs) > 0 {
			result.NewHighConfidence = append(result.NewHighConfidence, c.newHighConfidence(ctx, iocs)...)
			if err := c.repo.SaveIOCs(ctx, iocs); err != nil {
				c.logger.Error("❌ Error saving IOC batch", zap.String("reason", reason), zap.Error(err))
			} else {
				result.IOCs += len(iocs)
				c.logger.Debug("📦 Batch saved", zap.String("reason", reason), zap.Int("total", result.IOCs))
			}
			iocs = nil
		}
	}

	for {
		select {
		case item, ok := <-items:
			if !ok {
				flush("final")
				return result
			}
			if item.feed != nil {
				f := *item.feed
				if f.ID == "" {
					f.ID = domain.FeedID(f)
				}
				feeds = append(feeds, f)
			}
			if item.ioc != nil {
				iocs = append(iocs, *item.ioc)
			}
			if len(feeds)+len(iocs) >= c.batchSize {
				flush("size")
			}

		case <-ticker.C:
			flush("ticker")
		}
	}
}

func (c *Collector) newHighPriority(ctx context.Context, feeds []domain.ThreatFeed) []domain.ThreatFeed {
	var out []domain.ThreatFeed
	for _, f := range feeds {
		if !f.IsHighPriority() {
			continue
		}
		if _, err := c.repo.FindFeed(ctx, f.ID); errors.Is(err, domain.ErrNotFound) {
			out = append(out, f)
		}
	}
	return out
}

func (c *Collector) newHighConfidence(ctx context.Context, iocs []domain.IOC) []domain.IOC {
	var out []domain.IOC
	for _, ioc := range iocs {
		if ioc.Confidence != domain.ConfidenceHigh {
			continue
		}
		id := ioc.ID
		if id == "" {
			id = domain.IOCID(ioc)
		}
		if _, err := c.repo.FindIOC(ctx, id); errors.Is(err, domain.ErrNotFound) {
			out = append(out, ioc)
		}
	}
	return out
}
