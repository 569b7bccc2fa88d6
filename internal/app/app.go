// Package app wires every ambient dependency — database, cache, metrics,
// the HTTP surface and the background workers — into the two process
// modes this system runs as: an api process serving the HTTP control
// plane, and a worker process running the reaper and usage sampler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/opentomato/tomato/internal/api"
	"github.com/opentomato/tomato/internal/audit"
	"github.com/opentomato/tomato/internal/config"
	"github.com/opentomato/tomato/internal/db"
	"github.com/opentomato/tomato/internal/httpserver"
	"github.com/opentomato/tomato/internal/platform"
	"github.com/opentomato/tomato/internal/telemetry"
	"github.com/opentomato/tomato/pkg/notify"
	"github.com/opentomato/tomato/pkg/reaper"
	"github.com/opentomato/tomato/pkg/registry"
	"github.com/opentomato/tomato/pkg/usage"
)

// Run reads config, connects to infrastructure, and starts the mode
// (api or worker) cfg.Mode names.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting tomato", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.MigrationsDir, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metrics := telemetry.NewMetrics()
	metricsReg := telemetry.NewRegistry(metrics.All()...)

	reg := registry.New()
	registry.RegisterDefaults(reg, nil)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg, metrics, reg)
	case "worker":
		return runWorker(ctx, cfg, logger, pool, rdb, metrics, reg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	metrics *telemetry.Metrics,
	reg *registry.Registry,
) error {
	store := db.NewTopologyStore(pool, reg)

	auditStore := db.NewAuditStore(pool)
	auditWriter := audit.NewWriter(auditStore, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, metrics)

	handler := &api.Handler{
		Store:    store,
		Usage:    db.NewUsageStore(pool),
		Audit:    auditWriter,
		AuditLog: auditStore,
		Reg:      reg,
		Logger:   logger,
		Metrics:  metrics,
		Timeout: api.TimeoutPolicy{
			Initial: cfg.TopologyTimeoutInitial,
			Warning: cfg.TopologyTimeoutWarning,
			Max:     cfg.TopologyTimeoutMax,
		},
	}
	handler.Mount(srv.APIRouter)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	metrics *telemetry.Metrics,
	reg *registry.Registry,
) error {
	logger.Info("worker started")

	store := db.NewTopologyStore(pool, reg)

	notifyRegistry := notify.NewRegistry()
	if slack := notify.NewSlackProvider(cfg.SlackBotToken, cfg.SlackAlertChannel); slack.IsEnabled() {
		notifyRegistry.Register(slack)
		logger.Info("slack integration enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack integration disabled (SLACK_BOT_TOKEN not set)")
	}
	if smtp := notify.NewSMTPProvider(cfg.SMTPAddr, cfg.SMTPFrom); smtp.IsEnabled() {
		notifyRegistry.Register(smtp)
		logger.Info("smtp integration enabled", "addr", cfg.SMTPAddr)
	} else {
		logger.Info("smtp integration disabled (SMTP_ADDR not set)")
	}

	reaperEngine := reaper.New(store, notify.NewReaperAdapter(notifyRegistry), logger).
		WithWarningGrace(cfg.TopologyTimeoutWarning).
		WithBroadcaster(reaper.NewBroadcaster(rdb, logger)).
		WithMetrics(metrics.ReaperStepsTotal, metrics.ReaperSweepDuration)

	tracker := usage.NewTracker()
	lister := db.NewOwnerLister(store, logger)
	sampler := usage.NewSampler(tracker, lister, noopMeter{}, logger).
		WithCache(usage.NewContinuityCache(rdb, logger)).
		WithStore(db.NewUsageStore(pool)).
		WithMetrics(metrics.UsageSamplesTotal, metrics.UsageSampleErrorsTotal)

	errCh := make(chan error, 2)
	go func() {
		reaperEngine.Run(ctx, cfg.ReaperInterval)
		errCh <- nil
	}()
	go func() {
		sampler.Run(ctx, cfg.SamplerInterval)
		errCh <- nil
	}()

	<-ctx.Done()
	<-errCh
	<-errCh
	return nil
}

// noopMeter stands in for a host accounting driver: the hypervisor and
// network probes that would report real CPU, traffic, memory and
// diskspace readings are an external system out of this repo's scope, so
// this meter reports a zero sample for every owner rather than driving
// the tracker from a fabricated source.
type noopMeter struct{}

func (noopMeter) Sample(uuid.UUID) (usage.Sample, error) {
	return usage.Sample{}, nil
}
