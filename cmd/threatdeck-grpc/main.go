package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/hive-corporation/threatdeck/internal/adapter/handler"
	"github.com/hive-corporation/threatdeck/internal/adapter/repository"
	"github.com/hive-corporation/threatdeck/internal/config"
	"github.com/hive-corporation/threatdeck/internal/core/service"
	"github.com/hive-corporation/threatdeck/internal/logging"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := repository.Open(ctx, cfg.Database.URL, cfg.Server.SeedDemoData, logger)
	if err != nil {
		logger.Fatal("❌ Unable to open repository", zap.Error(err))
	}
	defer closeRepo()

	svc := service.NewThreatService(repo, logger)

	lis, err := net.Listen("tcp", cfg.GRPC.ListenAddr)
	if err != nil {
		logger.Fatal("❌ Failed to listen", zap.String("addr", cfg.GRPC.ListenAddr), zap.Error(err))
	}

	s := grpc.NewServer()
	handler.RegisterThreatIntelServer(s, handler.NewGrpcServer(svc, logger))
	reflection.Register(s)

	go func() {
		logger.Info("🚀 ThreatDeck gRPC API listening", zap.String("addr", cfg.GRPC.ListenAddr))
		if err := s.Serve(lis); err != nil {
			logger.Error("❌ gRPC server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutting down server...")
	s.GracefulStop()
}
