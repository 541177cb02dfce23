// Package main is the entry point for the publish engine daemon.
//
// It loads configuration, builds the touch rule configuration and the change
// ledger (in-memory or Postgres), wires the content-service client, the job
// scheduler, and the optional SQS/CloudWatch integrations, then serves the
// HTTP API until a shutdown signal arrives. In-flight publish jobs are
// cancelled cooperatively during shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"pubengine/internal/api/handlers"
	"pubengine/internal/config"
	"pubengine/internal/core"
	"pubengine/internal/db"
	"pubengine/internal/external"
	"pubengine/internal/jobs"
	"pubengine/internal/ledger"
	"pubengine/internal/queue"
	"pubengine/internal/telemetry"
	"pubengine/internal/touch"
	"pubengine/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)
	logger.Info("publish engine starting",
		"environment", cfg.App.Environment,
		"port", cfg.Server.Port,
		"ledger_backend", cfg.Publish.LedgerBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Content service client: backs the folder, relationship, item, type,
	// edition, and publish collaborators.
	baseClient := external.NewBaseClient(
		&http.Client{Timeout: 30 * time.Second},
		"content-service",
		external.DefaultRetryPolicy(),
		"publish-engine/1.0",
	)
	content := external.NewContentClient(baseClient, cfg.Publish.ContentServiceURL)

	// Touch rules: a rule file problem degrades to an empty rule set rather
	// than failing startup, so the job API stays available.
	ruleSpec, err := config.LoadTouchRules(cfg.Publish.TouchRulesFile, logger)
	if err != nil {
		logger.Warn("touch rule file unavailable, continuing with empty rule set",
			"file", cfg.Publish.TouchRulesFile,
			"error", err,
		)
		ruleSpec = &config.TouchRules{}
	}
	touchCfg := touch.Build(ctx, ruleSpec, content, logger)

	// Change ledger.
	var (
		ledgerStore types.Ledger
		demandAudit jobs.DemandAuditor
		pool        *pgxpool.Pool
		probes      []core.HealthProbe
	)
	switch cfg.Publish.LedgerBackend {
	case "postgres":
		pool, err = db.NewPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
		ledgerStore = db.NewLedgerRepository(pool)
		demandAudit = db.NewDemandRequestRepository(pool)
		probes = append(probes, poolProbe{pool: pool})
	default:
		ledgerStore = ledger.NewMemoryLedger()
	}

	// Optional AWS integrations.
	var (
		events  jobs.EventPublisher
		metrics *telemetry.Metrics
	)
	if cfg.AWS.JobEventQueueURL != "" || cfg.AWS.MetricNamespace != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		if cfg.AWS.JobEventQueueURL != "" {
			events = queue.NewJobEventPublisher(queue.JobEventPublisherConfig{
				Client:   sqs.NewFromConfig(awsCfg),
				QueueURL: cfg.AWS.JobEventQueueURL,
				Logger:   logger,
			})
		}
		if cfg.AWS.MetricNamespace != "" {
			metrics = telemetry.NewMetrics(telemetry.MetricsConfig{
				Client:    cloudwatch.NewFromConfig(awsCfg),
				Namespace: cfg.AWS.MetricNamespace,
				Logger:    logger,
			})
		}
	}

	// Job scheduling and status tracking.
	tracker := jobs.NewStatusTracker(cfg.Publish.JobRetention)
	schedulerCfg := jobs.SchedulerConfig{
		Tracker:   tracker,
		Ledger:    ledgerStore,
		Editions:  content,
		Publisher: content,
		Events:    events,
		Audit:     demandAudit,
		Logger:    logger,
	}
	if metrics != nil {
		schedulerCfg.Metrics = metrics
	}
	scheduler := jobs.NewScheduler(schedulerCfg)

	// Touch propagation engine.
	engineCfg := touch.EngineConfig{
		Configuration: touchCfg,
		Folders:       content,
		Relationships: content,
		Items:         content,
		Ledger:        ledgerStore,
		Logger:        logger,
	}
	if metrics != nil {
		engineCfg.Metrics = metrics
	}
	engine := touch.NewEngine(engineCfg)

	// HTTP surface.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = probes

	publishHandler := handlers.NewPublishHandler(scheduler, engine, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Route("/publish", publishHandler.RegisterRoutes)
	})
	srv.MountRoutes()

	return serve(ctx, cfg, srv, scheduler, logger)
}

// serve runs the HTTP server until the context is cancelled, then drains it
// and the scheduler.
func serve(ctx context.Context, cfg *config.Config, srv *core.Server, scheduler *jobs.Scheduler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if err := scheduler.Shutdown(shutdownCtx); err != nil {
			logger.Error("scheduler shutdown error", "error", err)
			return fmt.Errorf("scheduler shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// poolProbe reports database reachability for the health endpoint.
type poolProbe struct {
	pool *pgxpool.Pool
}

func (p poolProbe) Name() string { return "database" }

func (p poolProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
