package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/ledger-core/api/routes"
	"github.com/angelmondragon/ledger-core/internal/audit"
	"github.com/angelmondragon/ledger-core/internal/balances"
	"github.com/angelmondragon/ledger-core/internal/ledger"
	"github.com/angelmondragon/ledger-core/internal/permissions"
	"github.com/angelmondragon/ledger-core/internal/search"
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

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Instance:    env.InstanceID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
	} else if cfg.Ledger.UsesRedisLocks() {
		logg.Error(context.Background(), "redis lock backend requires redis", errors.New("LEDGER_REDIS_URL or LEDGER_REDIS_ADDR must be set"))
		os.Exit(1)
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Ledger.UsesRedisLocks() {
		locker, err = lock.NewRedisLocker(redisClient, cfg.Ledger.LockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create redis locker", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	txns := transactions.NewRepository(dbClient.DB())
	ledgerCore, err := balances.NewLedger(dbClient, locker, txns, ledgerMetrics, logg, balances.Options{
		MaxRetries:  cfg.Ledger.MaxRetries,
		BaseBackoff: cfg.Ledger.RetryBaseBackoff,
		MaxBackoff:  cfg.Ledger.RetryMaxBackoff,
		LockWait:    cfg.Ledger.LockWait,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger", err)
		os.Exit(1)
	}
	resolver, err := permissions.NewResolver(permissions.NewRepository(dbClient.DB()), cfg.Ledger.SystemAdminIDs)
	if err != nil {
		logg.Error(context.Background(), "failed to create permission resolver", err)
		os.Exit(1)
	}
	engine, err := search.NewEngine(dbClient.DB(), txns)
	if err != nil {
		logg.Error(context.Background(), "failed to create search engine", err)
		os.Exit(1)
	}
	recorder, err := audit.NewRecorder(audit.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create audit recorder", err)
		os.Exit(1)
	}
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Transactions: txns,
		Ledger:       ledgerCore,
		Permissions:  resolver,
		Search:       engine,
		Audit:        recorder,
		Metrics:      ledgerMetrics,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"lockBackend": cfg.Ledger.LockBackend,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, ledgerService, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		runErr = server.Shutdown(shutdownCtx)
		cancel()
	}

	runErr = multierr.Append(runErr, dbClient.Close())
	if redisClient != nil {
		runErr = multierr.Append(runErr, redisClient.Close())
	}
	if runErr != nil {
		logg.Error(ctx, "api server stopped with errors", runErr)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}
