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
	"go.uber.org/multierr"

	"github.com/metrolog/metrolog-backend/api/routes"
	"github.com/metrolog/metrolog-backend/internal/actnumbers"
	"github.com/metrolog/metrolog-backend/internal/allocation"
	"github.com/metrolog/metrolog-backend/internal/equipment"
	"github.com/metrolog/metrolog-backend/internal/quota"
	"github.com/metrolog/metrolog-backend/internal/verifications"
	"github.com/metrolog/metrolog-backend/internal/verifiers"
	"github.com/metrolog/metrolog-backend/pkg/config"
	"github.com/metrolog/metrolog-backend/pkg/db"
	"github.com/metrolog/metrolog-backend/pkg/instance"
	"github.com/metrolog/metrolog-backend/pkg/logger"
	"github.com/metrolog/metrolog-backend/pkg/metrics"
	"github.com/metrolog/metrolog-backend/pkg/migrate"
	"github.com/metrolog/metrolog-backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		_ = dbClient.Close()
		os.Exit(1)
	}
	defer func() {
		if err := multierr.Combine(redisClient.Close(), dbClient.Close()); err != nil {
			logg.Error(context.Background(), "error closing connections", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	allocationMetrics := metrics.NewAllocationMetrics(registry)

	verificationService, err := buildVerificationService(cfg, logg, dbClient, redisClient, allocationMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create verification service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, registry, verificationService),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func buildVerificationService(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	allocationMetrics *metrics.AllocationMetrics,
) (verifications.Service, error) {
	conn := dbClient.DB()

	verifierRepo := verifiers.NewRepository(conn)
	entryRepo := verifications.NewRepository(conn)
	gate := equipment.NewGate(time.Now)

	ledger, err := quota.NewLedger(quota.NewRepository(conn), allocationMetrics)
	if err != nil {
		return nil, err
	}
	resolver, err := actnumbers.NewResolver(actnumbers.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	engine, err := allocation.NewEngine(allocation.Deps{
		Verifiers: verifierRepo,
		Ledger:    ledger,
		Gate:      gate,
		Entries:   verifications.NewEntryWriter(entryRepo),
		Metrics:   allocationMetrics,
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}

	return verifications.NewService(verifications.Deps{
		Repo:      entryRepo,
		Verifiers: verifierRepo,
		Resolver:  resolver,
		Engine:    engine,
		Ledger:    ledger,
		Gate:      gate,
		Tx:        dbClient,
		Cache:     redisClient,
		Quota:     cfg.Quota,
		CacheCfg:  cfg.Cache,
		Logger:    logg,
	})
}
