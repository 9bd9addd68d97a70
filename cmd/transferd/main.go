package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/glorisonglotech/omnibiz-transferd/internal/config"
	"github.com/glorisonglotech/omnibiz-transferd/internal/fetcher"
	"github.com/glorisonglotech/omnibiz-transferd/internal/http/rest"
	"github.com/glorisonglotech/omnibiz-transferd/internal/logctx"
	"github.com/glorisonglotech/omnibiz-transferd/internal/notifier"
	"github.com/glorisonglotech/omnibiz-transferd/internal/scheduler"
	"github.com/glorisonglotech/omnibiz-transferd/internal/storage"
	"github.com/glorisonglotech/omnibiz-transferd/internal/storage/sqlite"
	"github.com/glorisonglotech/omnibiz-transferd/internal/telemetry"
	"github.com/glorisonglotech/omnibiz-transferd/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName    = "transferd"
	serviceVersion = "0.1.0"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("transfer manager starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && err != context.Canceled {
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
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer database.Close()

	history := sqlite.NewInstrumentedHistoryRepository(database, tel)

	// =========================================================================
	// Start Transfer Manager
	registry := transfer.NewRegistry(256)
	f := fetcher.New(registry, cfg.DownloadDir, &http.Client{}, cfg.ChunkSize, tel)

	sched := scheduler.New(
		scheduler.RealClock(),
		scheduler.StarterFunc(func(ctx context.Context, url, name string) (int64, error) {
			rec := registry.Create(url, name)

			return rec.ID, f.Start(ctx, rec.ID)
		}),
		cfg.SchedulerTick,
		cfg.SchedulerTolerance,
		cfg.SchedulerGrace,
	)

	var notif notifier.Notifier = notifier.Noop{}
	if cfg.WebhookURL != "" {
		notif = &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL}
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, tel, rest.NewTransferHandler(ctx, registry, f, sched, history))

	logger.Info("waiting for transfers...",
		"download_dir", cfg.DownloadDir,
		"scheduler_tick", cfg.SchedulerTick.String(),
		"max_connections", cfg.MaxConnections,
		"bind_address", cfg.Web.BindAddress,
	)

	// =========================================================================
	// Start Main Loop
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		sched.Run(gctx)

		return nil
	})

	group.Go(func() error {
		return consumeRegistryEvents(gctx, registry, history, notif)
	})

	group.Go(func() error {
		return consumeSchedulerEvents(gctx, sched, notif, tel)
	})

	group.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// consumeRegistryEvents turns terminal registry changes into history rows
// and outbound notifications.
func consumeRegistryEvents(ctx context.Context, registry *transfer.Registry, history storage.HistoryWriteRepository, notif notifier.Notifier) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("registry event consumer shutting down")

			return nil
		case evt := <-registry.Events():
			if evt.Kind != transfer.EventUpdated {
				continue
			}

			rec := evt.Record

			switch rec.Status {
			case transfer.StatusCompleted:
				appendHistory(ctx, history, rec)

				if err := notif.Notify("✅ Download completed: " + rec.DisplayName +
					" (" + humanize.Bytes(uint64(rec.BytesReceived)) + ")"); err != nil {
					logger.Error("failed to send notification", "transfer_id", rec.ID, "err", err)
				}
			case transfer.StatusError:
				appendHistory(ctx, history, rec)

				if err := notif.Notify("❌ Download failed: " + rec.DisplayName + ": " + rec.ErrorMessage); err != nil {
					logger.Error("failed to send notification", "transfer_id", rec.ID, "err", err)
				}
			}
		}
	}
}

func appendHistory(ctx context.Context, history storage.HistoryWriteRepository, rec transfer.Record) {
	logger := logctx.LoggerFromContext(ctx)

	err := history.Append(storage.HistoryRecord{
		TransferID:    rec.ID,
		SourceURL:     rec.SourceURL,
		DisplayName:   rec.DisplayName,
		Status:        string(rec.Status),
		BytesReceived: rec.BytesReceived,
		FinishedAt:    time.Now().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("failed to append transfer history", "transfer_id", rec.ID, "err", err)
	}
}

// consumeSchedulerEvents notifies collaborators when scheduled entries fire
// or miss their window.
func consumeSchedulerEvents(ctx context.Context, sched *scheduler.Scheduler, notif notifier.Notifier, tel *telemetry.Telemetry) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler event consumer shutting down")

			return nil
		case entry := <-sched.OnStarted:
			tel.RecordSchedulerFire("started")

			if err := notif.Notify("⏰ Scheduled download started: " + entry.DisplayName); err != nil {
				logger.Error("failed to send notification", "schedule_id", entry.ID, "err", err)
			}
		case entry := <-sched.OnExpired:
			tel.RecordSchedulerFire("expired")

			if err := notif.Notify("⌛ Scheduled download missed its window: " + entry.DisplayName); err != nil {
				logger.Error("failed to send notification", "schedule_id", entry.ID, "err", err)
			}
		}
	}
}

// setupServer prepares the router and middleware chain for the REST server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, handler *rest.TransferHandler) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.Middleware(tel))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if tel != nil {
		r.Handle("/metrics", tel.Handler())
	}

	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, serviceName),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
