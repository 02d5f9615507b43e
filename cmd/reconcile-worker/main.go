package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledger-core/internal/accounts"
	"github.com/angelmondragon/ledger-core/internal/balances"
	"github.com/angelmondragon/ledger-core/internal/cron"
	"github.com/angelmondragon/ledger-core/internal/transactions"
	"github.com/angelmondragon/ledger-core/pkg/config"
	"github.com/angelmondragon/ledger-core/pkg/db"
	"github.com/angelmondragon/ledger-core/pkg/env"
	"github.com/angelmondragon/ledger-core/pkg/lock"
	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/metrics"
	"github.com/angelmondragon/ledger-core/pkg/migrate"
	"github.com/angelmondragon/ledger-core/pkg/redis"
)

const lockNameFormat = "reconcile-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "reconcile-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reconcile-worker",
		Instance:    env.InstanceID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var scheduleLock cron.Lock = &cron.LocalLock{}
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		scheduleLock, err = cron.NewRedisLock(redisClient, lockName(cfg.App.Env), cfg.Reconcile.Interval)
		if err != nil {
			logg.Error(context.Background(), "failed to create schedule lock", err)
			os.Exit(1)
		}
	}

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	// Reconcile takes no account lock; an in-process locker is enough here.
	ledger, err := balances.NewLedger(dbClient, lock.NewKeyedMutex(), transactions.NewRepository(dbClient.DB()), ledgerMetrics, logg, balances.Options{
		MaxRetries:  cfg.Ledger.MaxRetries,
		BaseBackoff: cfg.Ledger.RetryBaseBackoff,
		MaxBackoff:  cfg.Ledger.RetryMaxBackoff,
		LockWait:    cfg.Ledger.LockWait,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger", err)
		os.Exit(1)
	}

	job, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger:    logg,
		Accounts:  accounts.NewRepository(dbClient.DB()),
		Ledger:    ledger,
		BatchSize: cfg.Reconcile.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}
	registry := cron.NewRegistry()
	if err := registry.Register(job); err != nil {
		logg.Error(context.Background(), "failed to register reconcile job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     scheduleLock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Reconcile.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "reconcile-worker",
		"interval":    cfg.Reconcile.Interval.String(),
	})
	logg.Info(ctx, "starting reconcile worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reconcile worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reconcile worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockNameFormat, env)
}
