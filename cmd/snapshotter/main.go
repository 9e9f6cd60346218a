package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tftstocks/market-engine/internal/config"
	"github.com/tftstocks/market-engine/internal/pricing"
	"github.com/tftstocks/market-engine/internal/store"
	"github.com/tftstocks/market-engine/internal/valuation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.RedisURL, cfg.CacheTTL, logger)
	if err != nil {
		logger.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	transform, err := pricing.Lookup(cfg.PricingVersion)
	if err != nil {
		logger.Error("pricing", "err", err)
		os.Exit(1)
	}
	svc := valuation.NewService(st, transform, logger)

	if cfg.SnapshotRunOnce {
		if err := run(ctx, svc, logger); err != nil {
			os.Exit(1)
		}
		logger.Info("snapshotter run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.SnapshotEvery)
	defer ticker.Stop()

	logger.Info("snapshotter started", "every", cfg.SnapshotEvery.String(), "pricing_version", transform.Version)
	for {
		select {
		case <-ctx.Done():
			logger.Info("snapshotter shutdown")
			return
		case <-ticker.C:
			_ = run(ctx, svc, logger)
		}
	}
}

func run(ctx context.Context, svc *valuation.Service, logger *slog.Logger) error {
	start := time.Now()
	n, err := svc.RecordAll(ctx)
	if err != nil {
		logger.Error("snapshot run had failures", "recorded", n, "err", err)
		return err
	}
	logger.Info("snapshot run complete", "recorded", n, "took", time.Since(start).String())
	return nil
}
