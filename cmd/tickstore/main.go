package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gftdcojp/tickstore/internal/app"
	"github.com/gftdcojp/tickstore/internal/catalog"
	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/internal/metrics"
	"github.com/gftdcojp/tickstore/internal/serve"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tickstore %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Open(ctx, cfg, app.Options{ConnectNATS: true}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// An empty catalog means first start or a lost manifest.
	if len(a.Catalog.Entries()) == 0 {
		logger.Info("catalog is empty, rebuilding from storage root")
		if _, err := a.Catalog.RebuildCatalog(ctx, catalog.RebuildOptions{
			ComputeChecksums: cfg.Storage.ComputeChecksums,
			MaxParallelism:   cfg.Storage.MaxParallelism,
		}); err != nil {
			return fmt.Errorf("rebuilding catalog: %w", err)
		}
	}

	if restored, err := a.Quota.Restore(ctx); err != nil {
		logger.Warn("restoring quota usage failed, rescanning", zap.Error(err))
	} else if restored {
		logger.Info("restored quota usage snapshot")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Start quota rescan loop; its first cycle rescans immediately.
	g.Go(func() error { return a.Quota.Run(gctx, cfg.Quotas.RescanInterval.Duration()) })

	// Start lifecycle loop
	if cfg.Lifecycle.Enabled {
		g.Go(func() error {
			return a.Engine.Run(gctx, cfg.Lifecycle.EvalInterval.Duration(), cfg.Lifecycle.DryRun)
		})
	}

	api := serve.Deps{
		Catalog:          a.Catalog,
		Quota:            a.Quota,
		Engine:           a.Engine,
		Meta:             a.Meta,
		DryRun:           cfg.Lifecycle.DryRun,
		ComputeChecksums: cfg.Storage.ComputeChecksums,
		Logger:           logger.Named("api"),
	}

	// Start HTTP API
	if cfg.API.Enabled {
		g.Go(func() error { return serve.RunHTTP(gctx, cfg.API, api) })
	}

	// Start NATS responder
	if cfg.API.NATSResponder.Enabled && a.NATS != nil {
		g.Go(func() error {
			return serve.RunNATSResponder(gctx, a.NATS, cfg.API.NATSResponder, api)
		})
	}

	// Start metrics server
	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	// Start health server
	if cfg.Observability.Health.Enabled {
		healthChecker := metrics.NewHealthChecker(cfg.Storage.Root, a.NATS, a.Meta, a.S3)
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, healthChecker)
		})
	}

	logger.Info("tickstore started",
		zap.String("version", version),
		zap.String("root", cfg.Storage.Root),
		zap.Int("tiers", len(cfg.Tiers)),
		zap.Int("files", len(a.Catalog.Entries())),
		zap.Bool("lifecycle", cfg.Lifecycle.Enabled),
		zap.Bool("dry_run", cfg.Lifecycle.DryRun),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutting down, persisting state")
	if err := a.Quota.Persist(context.Background()); err != nil {
		logger.Error("error persisting quota usage", zap.Error(err))
	}
	if err := a.Catalog.Save(); err != nil {
		logger.Error("error saving catalog manifest", zap.Error(err))
	}

	return nil
}
