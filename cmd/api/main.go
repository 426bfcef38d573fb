package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/campsuite/campsuite/internal/clock"
	"github.com/campsuite/campsuite/internal/config"
	"github.com/campsuite/campsuite/internal/infra"
	"github.com/campsuite/campsuite/internal/logging"
	"github.com/campsuite/campsuite/internal/notification"
	"github.com/campsuite/campsuite/internal/reconcile"
	"github.com/campsuite/campsuite/internal/server"
	"github.com/campsuite/campsuite/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		logger.Warn("no DATABASE_URL, using in-memory stores")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("no REDIS_URL, rate limiting and sweep leader lock disabled")
	}

	srv, err := server.New(cfg, db, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	sweepCfg := sweeper.Config{
		Interval: cfg.SweepInterval,
		Clock:    clock.Real{},
		Logger:   logger,
		Cache:    cache,
	}
	if db != nil {
		sweepCfg.Advisor = reconcile.NewAdvisor(notification.NewLoggerNotifier(logger), logger)
		sweepCfg.DriftSource = reconcile.NewPostgresSource(db)
		sweepCfg.DriftThresholdCents = cfg.DriftThresholdCents
	}
	sweep := sweeper.New(srv.Engine(), sweepCfg)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweep.Run(sweepCtx)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
