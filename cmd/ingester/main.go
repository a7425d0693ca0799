package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/adapter/notifier"
	"github.com/hive-corporation/threatdeck/internal/adapter/provider"
	"github.com/hive-corporation/threatdeck/internal/adapter/repository"
	"github.com/hive-corporation/threatdeck/internal/config"
	"github.com/hive-corporation/threatdeck/internal/core/service"
	"github.com/hive-corporation/threatdeck/internal/logging"
)

// ingester runs one collection pass against the configured repository and exits.
func main() {
	configPath := flag.String("config", "", "path to a threatdeck.yaml config file")
	timeout := flag.Duration("timeout", 10*time.Minute, "upper bound for the whole run")
	batchSize := flag.Int("batch", service.DefaultBatchSize, "IOCs per repository batch")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	logger := logging.Must(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if cfg.Database.URL == "" {
		logger.Warn("⚠️ No database configured, collected data will be discarded on exit")
	}
	repo, closeRepo, err := repository.Open(ctx, cfg.Database.URL, false, logger)
	if err != nil {
		logger.Fatal("❌ Error connecting to database", zap.Error(err))
	}
	defer closeRepo()

	if cfg.Providers.OTXAPIKey == "" {
		logger.Warn("⚠️ OTX API key not found. AlienVault feed will be ignored.")
	}
	client := &http.Client{Timeout: cfg.Providers.HTTPTimeout}
	providers := provider.Defaults(client, provider.Selection{
		URLHaus:       cfg.Providers.URLHaus,
		Blocklists:    cfg.Providers.Blocklists,
		OTXAPIKey:     cfg.Providers.OTXAPIKey,
		OSVEcosystems: cfg.Providers.OSVEcosystems,
		RSSFeeds:      cfg.Providers.RSSFeeds,
	})

	opts := []service.Option{
		service.WithProviders(providers...),
		service.WithProviderFactory(provider.NewFactory(client)),
		service.WithCollector(service.NewCollector(repo, logger).WithBatching(*batchSize, 0)),
	}
	if cfg.Slack.BotToken != "" {
		n := notifier.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel, cfg.Slack.MentionTeam)
		if cfg.Slack.APIURL != "" {
			n = n.WithAPIURL(cfg.Slack.APIURL)
		}
		opts = append(opts, service.WithNotifier(n))
	}
	svc := service.NewThreatService(repo, logger, opts...)
	if err := svc.LoadCustomSources(ctx); err != nil {
		logger.Warn("⚠️ Could not load custom sources", zap.Error(err))
	}

	result, err := svc.Refresh(ctx)
	if err != nil {
		logger.Fatal("❌ Threat intel ingestion failed", zap.Error(err))
	}
	logger.Info("🏁 Threat intel ingestion finished!",
		zap.Int("feeds", result.Feeds),
		zap.Int("iocs", result.IOCs),
		zap.Strings("failed", result.Failed))
}
