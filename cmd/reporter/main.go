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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"jirareporter.app/reporter/common/id"
	"jirareporter.app/reporter/common/logger"
	"jirareporter.app/reporter/common/otel"
	"jirareporter.app/reporter/core/config"
	"jirareporter.app/reporter/internal/engine"
	"jirareporter.app/reporter/internal/http/middleware"
	httprouter "jirareporter.app/reporter/internal/http/router"
	"jirareporter.app/reporter/internal/queue"
	"jirareporter.app/reporter/internal/service"
	"jirareporter.app/reporter/internal/store"
	"jirareporter.app/reporter/internal/tracker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "jira reporter starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"storage", cfg.Storage.Engine,
		"broker", cfg.Broker.Kind)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := store.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open storage", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "storage connected")

	broker, err := connectBroker(ctx, cfg.Broker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to broker", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "broker connected")

	app := queue.NewApp(broker.transport)
	channels, err := engine.DeclareChannels(ctx, app, cfg.Queues, cfg.Broker.MaxDeliveries)
	if err != nil {
		slog.ErrorContext(ctx, "failed to declare channels", "error", err)
		os.Exit(1)
	}

	gateway := tracker.NewBreakerGateway(
		tracker.NewJiraGateway(cfg.Jira.Timeout),
		tracker.BreakerConfig{
			ConsecutiveFailures: cfg.Jira.BreakerFailures,
			Timeout:             cfg.Jira.BreakerTimeout,
		},
	)

	services := service.NewServices(database, gateway, channels.Producers())
	if err := channels.Bind(services.Reconcile()); err != nil {
		slog.ErrorContext(ctx, "failed to bind consumers", "error", err)
		os.Exit(1)
	}

	eng := engine.New(app, database.Unsent(), broker.engineOptions...)
	if err := eng.Start(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, app)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...", "timeout", cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "engine shutdown error", "error", err)
	}

	if err := app.Close(); err != nil {
		slog.ErrorContext(shutdownCtx, "broker close error", "error", err)
	}

	if err := database.Close(); err != nil {
		slog.ErrorContext(shutdownCtx, "storage close error", "error", err)
	}

	if telemetry != nil {
		// The engine may have used up the whole shutdown timeout.
		flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(shutdownCtx), 5*time.Second)
		defer cancelFlush()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.ErrorContext(flushCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services, app *queue.App) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		AdminAPIKey: cfg.AdminAPIKey,
		Broker:      app,
	})

	return router
}

const banner = `
     ╦╦╦═╗╔═╗  ╦═╗╔═╗╔═╗╔═╗╦═╗╔╦╗╔═╗╦═╗
     ║║╠╦╝╠═╣  ╠╦╝║╣ ╠═╝║ ║╠╦╝ ║ ║╣ ╠╦╝
    ╚╝╩╩╚═╩ ╩  ╩╚═╚═╝╩  ╚═╝╩╚═ ╩ ╚═╝╩╚═
`
