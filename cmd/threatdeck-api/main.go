package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/adapter/cache"
	"github.com/hive-corporation/threatdeck/internal/adapter/exporter"
	"github.com/hive-corporation/threatdeck/internal/adapter/handler"
	"github.com/hive-corporation/threatdeck/internal/adapter/llm"
	"github.com/hive-corporation/threatdeck/internal/adapter/notifier"
	"github.com/hive-corporation/threatdeck/internal/adapter/provider"
	"github.com/hive-corporation/threatdeck/internal/adapter/repository"
	"github.com/hive-corporation/threatdeck/internal/config"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
	"github.com/hive-corporation/threatdeck/internal/core/service"
	"github.com/hive-corporation/threatdeck/internal/logging"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a threatdeck.yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	logger := logging.Must(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("❌ API server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := repository.Open(ctx, cfg.Database.URL, cfg.Server.SeedDemoData, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	statsCache, closeCache, err := openCache(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	httpClient := &http.Client{Timeout: cfg.Providers.HTTPTimeout}
	providers := provider.Defaults(httpClient, provider.Selection{
		URLHaus:       cfg.Providers.URLHaus,
		Blocklists:    cfg.Providers.Blocklists,
		OTXAPIKey:     cfg.Providers.OTXAPIKey,
		OSVEcosystems: cfg.Providers.OSVEcosystems,
		RSSFeeds:      cfg.Providers.RSSFeeds,
	})
	if cfg.Providers.OTXAPIKey == "" {
		logger.Warn("⚠️ OTX API key not found, AlienVault feed will be ignored")
	}
	logger.Info("✅ Providers configured", zap.Int("count", len(providers)))

	summarizer := llm.NewLLMSummarizer(llm.Config{
		Enabled: cfg.LLM.Enabled,
		APIURL:  cfg.LLM.APIURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
		Client:  llm.DefaultResilientClientConfig(),
	}, llm.NewHeuristicSummarizer(), logger)
	if summarizer.IsEnabled() {
		logger.Info("✅ LLM summaries enabled", zap.String("model", cfg.LLM.Model))
	} else {
		logger.Warn("⚠️ LLM summaries disabled, using heuristic summaries")
	}

	hub := handler.NewHub(logger, originChecker(cfg.Server.AllowedOrigins))
	defer hub.Close()

	opts := []service.Option{
		service.WithSummarizer(summarizer),
		service.WithCache(statsCache),
		service.WithBroadcaster(hub),
		service.WithProviderFactory(provider.NewFactory(httpClient)),
		service.WithProviders(providers...),
		service.WithVersion(version),
	}
	if n := slackNotifier(cfg.Slack, logger); n != nil {
		opts = append(opts, service.WithNotifier(n))
	}
	svc := service.NewThreatService(repo, logger, opts...)
	if err := svc.LoadCustomSources(ctx); err != nil {
		logger.Warn("⚠️ Could not load custom sources", zap.Error(err))
	}

	if cfg.Scheduler.Enabled {
		sched, err := service.NewThreatScheduler(svc, cfg.Scheduler.Collect, cfg.Scheduler.Summarize, logger)
		if err != nil {
			return fmt.Errorf("failed to build scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	router := handler.NewRouter(handler.RouterConfig{
		Rest:           handler.NewRestHandler(svc, exporter.NewRegistry(), logger),
		Hub:            hub,
		Auth:           handler.NewAuthenticator(cfg.Auth.Token, cfg.Auth.JWTSecret, logger, handler.HealthPath),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 ThreatDeck REST API listening", zap.Int("port", cfg.Server.Port), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("✅ Server stopped gracefully")
	return nil
}

func openCache(cfg config.RedisConfig, logger *zap.Logger) (ports.Cache, func(), error) {
	if cfg.URL == "" {
		logger.Info("✅ Using in-process stats cache")
		return cache.NewMemoryCache(service.StatsCacheTTL, time.Minute), func() {}, nil
	}

	rc, err := cache.NewRedisCacheFromURL(cfg.URL, cfg.Prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure redis: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		logger.Warn("⚠️ Redis not reachable yet, health will report it", zap.Error(err))
	} else {
		logger.Info("✅ Redis stats cache connected")
	}
	return rc, func() { _ = rc.Close() }, nil
}

// slackNotifier returns nil when no bot token is configured.
func slackNotifier(cfg config.SlackConfig, logger *zap.Logger) ports.Notifier {
	if cfg.BotToken == "" {
		logger.Warn("⚠️ Slack notifier disabled (no bot token)")
		return nil
	}
	n := notifier.NewSlackNotifier(cfg.BotToken, cfg.Channel, cfg.MentionTeam)
	if cfg.APIURL != "" {
		n = n.WithAPIURL(cfg.APIURL)
	}
	logger.Info("✅ Slack notifier enabled", zap.String("channel", cfg.Channel))
	return n
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
