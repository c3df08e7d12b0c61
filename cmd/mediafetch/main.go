package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/mediafetch/internal/cleanup"
	"github.com/italolelis/mediafetch/internal/config"
	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/fetch"
	"github.com/italolelis/mediafetch/internal/fetch/ytdlp"
	"github.com/italolelis/mediafetch/internal/http/rest"
	"github.com/italolelis/mediafetch/internal/job"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/notifier"
	"github.com/italolelis/mediafetch/internal/storage/sqlite"
	"github.com/italolelis/mediafetch/internal/telemetry"
)

// version is set at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("mediafetch starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedArtifactRepository(database, tel)
	instanceID := downloader.GenerateInstanceID()

	// =========================================================================
	// Sweep Leftovers
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	swept, err := cleanup.SweepOrphans(ctx, ledger, instanceID)
	if err != nil {
		logger.Error("failed to sweep orphaned artifacts", "err", err)
	} else if swept > 0 {
		logger.Info("removed artifacts left by a previous run", "count", swept)
	}

	// =========================================================================
	// Start Job Manager
	registry := job.NewRegistry()

	scheduler := cleanup.NewScheduler(ctx, registry,
		cleanup.WithLedger(ledger),
		cleanup.WithTelemetry(tel),
		cleanup.WithRetryDelay(cfg.CleanupRetry),
	)

	backend := fetch.NewInstrumentedBackend(ytdlp.NewClient(cfg.YtdlpPath), tel, ytdlp.BackendName)

	// Workers keep running while the HTTP server drains and are cancelled after.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	manager := downloader.NewManager(workerCtx, registry, backend, scheduler, downloader.Options{
		DownloadDir:       cfg.DownloadDir,
		Format:            cfg.OutputFormat,
		DefaultResolution: cfg.DefaultResolution,
		Retention:         cfg.Retention,
		ProbeTimeout:      cfg.ProbeTimeout,
		FetchTimeout:      cfg.FetchTimeout,
		MaxActiveJobs:     cfg.MaxActiveJobs,
		InstanceID:        instanceID,
		Ledger:            ledger,
		Telemetry:         tel,
	})

	if err := tel.ObserveJobs(manager.StatusCounts); err != nil {
		logger.Warn("failed to register job gauge", "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	g.Go(func() error {
		notifier.Forward(context.WithoutCancel(ctx), manager.OnJobFinished, notif)

		return nil
	})

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, manager, tel, cfg)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	logger.Info("waiting for jobs...",
		"download_dir", cfg.DownloadDir,
		"retention", cfg.Retention.String(),
		"default_resolution", cfg.DefaultResolution,
		"instance_id", instanceID,
	)

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				logger.Error("could not stop server", "err", err)
			}
		}

		cancelWorkers()
		manager.Wait()
		scheduler.Stop()

		logger.Info("shutdown complete")

		return nil
	})

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, manager *downloader.Manager, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"active_jobs": manager.ActiveJobs(),
		})
	})
	r.Handle("/metrics", tel.Handler())
	r.Mount("/api", rest.NewJobsHandler(manager).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "mediafetch"),
		// Requests keep the logger but are not cancelled by the shutdown signal,
		// so Shutdown can drain streams in progress.
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
}
