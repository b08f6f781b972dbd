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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hiroki-koketsu/go-todo-store/internal/config"
	"github.com/hiroki-koketsu/go-todo-store/internal/handler"
	"github.com/hiroki-koketsu/go-todo-store/internal/kvstore"
	"github.com/hiroki-koketsu/go-todo-store/internal/repository"
	"github.com/hiroki-koketsu/go-todo-store/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	// Basic logger for startup (before OTel is initialized)
	logger := telemetry.NewConsoleLogger(cfg.ServiceName)
	logger.Info("starting application",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("store", cfg.Store.Backend),
		slog.Bool("otel", cfg.OTELEnabled),
	)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}

// run wires the application and serves until a shutdown signal arrives.
// Deferred cleanup always runs before it returns.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.OTELEnabled {
		shutdown, otelLogger, err := initTelemetry(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer shutdown()
		logger = otelLogger
	}

	store, err := kvstore.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", slog.Any("error", err))
		}
	}()

	taskRepo := repository.NewTaskRepository(store,
		repository.WithLogger(logger),
		repository.WithStorageKey(cfg.StorageKey),
	)
	if err := taskRepo.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to load task list: %w", err)
	}
	logger.Info("task list loaded", slog.Int64("count", taskRepo.Count()))

	meter := otel.Meter(cfg.ServiceName)
	metrics, err := telemetry.NewMetrics(meter, taskRepo.Stats)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	taskHandler := handler.NewTaskHandler(taskRepo, store, logger, metrics)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint (excluded from tracing)
	r.Get("/health", taskHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/tasks", taskHandler.Routes())
	})

	otelHandler := otelhttp.NewHandler(r, "http-server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		logger.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// initTelemetry starts the tracer, meter and logger providers. The returned
// function flushes and stops all of them.
func initTelemetry(ctx context.Context, cfg *config.Config, startupLogger *slog.Logger) (func(), *slog.Logger, error) {
	var shutdowns []func(context.Context) error

	shutdown := func() {
		for i := len(shutdowns) - 1; i >= 0; i-- {
			if err := shutdowns[i](ctx); err != nil {
				startupLogger.Error("failed to shutdown telemetry provider", slog.Any("error", err))
			}
		}
	}

	tp, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		return nil, nil, err
	}
	shutdowns = append(shutdowns, tp.Shutdown)

	mp, err := telemetry.InitMeterProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	shutdowns = append(shutdowns, mp.Shutdown)

	// Logger provider last so log records can be correlated with traces.
	lp, logger, err := telemetry.InitLoggerProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	shutdowns = append(shutdowns, lp.Shutdown)

	return shutdown, logger, nil
}
