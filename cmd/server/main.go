package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/madnx-diagnostic-core/internal/api"
	"github.com/madnx-diagnostic-core/internal/config"
	"github.com/madnx-diagnostic-core/internal/ledger"
	"github.com/madnx-diagnostic-core/internal/review"
	"github.com/madnx-diagnostic-core/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting diagnostic consensus core")

	audit, err := ledger.New(logger, cfg.Ledger.Dir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open audit ledger")
	}

	// Refuse to start on a ledger whose chain does not verify.
	verification, err := audit.Verify()
	if err != nil {
		logger.WithError(err).Fatal("Failed to verify audit ledger")
	}
	if !verification.Valid {
		logger.WithField("broken_at_entry", verification.BrokenAtEntry).Fatal("Audit ledger integrity check failed")
	}

	reviews, err := newReviewStore(cfg.Review)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open review store")
	}
	defer reviews.Close()

	pipeline, err := service.NewPipeline(logger, cfg, audit)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build decision pipeline")
	}

	server := api.NewServer(logger, cfg, pipeline, audit, reviews)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func newReviewStore(cfg config.ReviewConfig) (review.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "postgres":
		return review.NewPostgresStoreFromURL(cfg.PostgresURL)
	case "sqlite":
		return review.NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown review backend: %s", cfg.Backend)
	}
}
