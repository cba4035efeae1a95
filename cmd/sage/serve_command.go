package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/app"
	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/routes"
	"github.com/Ramsey-B/sage/pkg/routes/health"
	"github.com/Ramsey-B/sage/pkg/startup"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lookup API and, when enabled, the Kafka ingest consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			shutdownTracing, err := tracing.Setup(signalCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.WithError(err).Warn("Failed to flush traces")
				}
			}()

			var opts []app.Option
			if readOnly {
				opts = append(opts, app.ReadOnly())
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				return serve(signalCtx, cfg, a, readOnly)
			}, opts...)
		},
	}

	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Serve lookups only; reject batch submissions and skip the consumer")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, a *app.App, readOnly bool) error {
	logger := a.Logger

	checks := []health.Check{{Name: "database", Ping: a.Ping}}
	deps := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	deps.AddDependency(&startup.Dependency{Name: "database", OnStart: a.Ping})
	if a.Redis != nil {
		checks = append(checks, health.Check{Name: "redis", Ping: a.Redis.Ping})
		deps.AddDependency(&startup.Dependency{Name: "redis", OnStart: a.Redis.Ping})
	}
	if a.Graph != nil {
		deps.AddDependency(a.Graph)
	}
	if cfg.KafkaConsumerEnabled && !readOnly {
		deps.AddDependency(kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg), logger, ingestHandler(a)))
	}
	checker := health.NewChecker(cfg.Version, checks...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	routes.Register(e, routes.Dependencies{
		ContainerID: a.Container.GetContainerID(),
		DatasetKey:  cfg.DatasetKey,
		Logger:      logger,
		Health:      checker,
		Gatherer:    a.Registry,
	})

	if err := deps.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("Failed to stop dependencies")
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- e.StartServer(server)
	}()
	checker.SetReady(true)
	logger.WithFields(map[string]any{
		"port":        cfg.Port,
		"dataset_key": cfg.DatasetKey,
		"read_only":   readOnly,
	}).Info("Server started")

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	checker.SetReady(false)
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

// ingestHandler resolves each consumed batch. A failed run leaves the batch uncommitted so the
// group redelivers it.
func ingestHandler(a *app.App) kafka.BatchHandler {
	return func(ctx context.Context, records []models.SourceRecord) error {
		result, err := a.Reconciler.Run(ctx, records)
		if err != nil {
			return err
		}
		a.Logger.WithContext(ctx).WithFields(map[string]any{
			"run_id": result.Run.RunID,
			"status": result.Run.Status,
		}).Debug("Resolved consumed batch")
		return nil
	}
}
