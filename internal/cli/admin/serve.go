package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/briefly/internal/api/handlers"
	"github.com/cloo-solutions/briefly/internal/api/middleware"
	"github.com/cloo-solutions/briefly/internal/config"
	"github.com/cloo-solutions/briefly/internal/database"
	"github.com/cloo-solutions/briefly/internal/jobs"
	"github.com/cloo-solutions/briefly/internal/logging"
	"github.com/cloo-solutions/briefly/internal/server"
	"github.com/cloo-solutions/briefly/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and ingestion worker",
		Long:  "Start the briefly API server, the ingestion job worker and the scheduled sync and stale-job sweeps",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides BRIEFLY_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-worker", false, "Serve the API only; do not process ingestion jobs")
	cmd.Flags().Bool("no-cron", false, "Disable scheduled provider sync and stale-job sweeps")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, syncLogs, err := setupLogging(ctx, cfg)
	if err != nil {
		return err
	}
	defer syncLogs()
	log := logging.FromContext(ctx)

	if cfg.HasSentry() {
		// 10% sampling in production, everything elsewhere
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		} else {
			defer shutdownTelemetry()
		}
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := migrateUp(ctx, cfg); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.APIToken == "" {
		log.Warn("BRIEFLY_API_TOKEN is not set; every /v1 request will be rejected")
	}

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:  middleware.StaticToken(cfg.APIToken),
		FileHandler:    handlers.NewFileHandler(a.ingest, a.dedup, cfg.MaxUploadBytes),
		SearchHandler:  handlers.NewSearchHandler(a.search),
		SyncHandler:    handlers.NewSyncHandler(a.sync),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	var worker *jobs.Worker
	if noWorker, _ := cmd.Flags().GetBool("no-worker"); !noWorker {
		processor := jobs.NewIngestionWorker(a.jobs, a.ingest, jobs.IngestionWorkerConfig{
			Concurrency: cfg.WorkerConcurrency,
			ClaimLimit:  cfg.JobClaimLimit,
			MaxRetries:  cfg.JobMaxRetries,
		})
		worker = jobs.NewWorker(processor, cfg.WorkerPollInterval)
		go worker.Start(ctx)
		log.Info("ingestion worker started",
			zap.Int("concurrency", cfg.WorkerConcurrency),
			zap.Duration("poll_interval", cfg.WorkerPollInterval),
		)
	}

	var scheduler *jobs.CronScheduler
	if noCron, _ := cmd.Flags().GetBool("no-cron"); !noCron {
		scheduler = jobs.NewCronScheduler()
		if err := scheduler.AddJob(jobs.NewSyncJob(a.conns, a.sync), cfg.SyncSchedule); err != nil {
			return fmt.Errorf("failed to schedule sync: %w", err)
		}
		if err := scheduler.AddJob(jobs.NewStaleJobRequeuer(a.jobs, cfg.JobStaleAfter), cfg.StaleSchedule); err != nil {
			return fmt.Errorf("failed to schedule stale job sweep: %w", err)
		}
		scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	if worker != nil {
		worker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

func migrateUp(ctx context.Context, cfg *config.Config) error {
	log := logging.FromContext(ctx)

	mg, err := database.NewMigrator(cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	defer func() { _ = mg.Close() }()

	status, err := mg.Up()
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if status.Changed {
		log.Info("migrations applied", zap.Uint("version", status.Version))
	} else {
		log.Info("database is up to date", zap.Uint("version", status.Version))
	}
	return nil
}
