package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Br41n7/Securebank/shared/events"
	"github.com/Br41n7/Securebank/shared/middleware"
	"github.com/Br41n7/Securebank/transaction-service/internal/app"
	"github.com/Br41n7/Securebank/transaction-service/internal/command"
	"github.com/Br41n7/Securebank/transaction-service/internal/config"
	"github.com/Br41n7/Securebank/transaction-service/internal/handler"
	"github.com/Br41n7/Securebank/transaction-service/internal/query"
	"github.com/Br41n7/Securebank/transaction-service/internal/telemetry"
	"github.com/Br41n7/Securebank/transaction-service/internal/worker"
	"github.com/gin-gonic/gin"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Server.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	// --- CQRS wiring ---
	accountCmds := command.NewAccountCommandService(a.Store, a.Publisher, logger)
	settingsCmds := command.NewSettingsCommandService(a.Store, a.Profiles, logger)

	txHandler := handler.NewTransactionHandler(a.Engine, query.NewTransactionQueryService(a.Views, a.Store))
	accountHandler := handler.NewAccountHandler(accountCmds, query.NewAccountQueryService(a.Store))
	profileHandler := handler.NewProfileHandler(settingsCmds, query.NewProfileQueryService(a.Store, a.Profiles, a.Evaluator))

	if cfg.Telemetry.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		telemetry.TracingMiddleware(cfg.Telemetry.ServiceName),
		telemetry.MetricsMiddleware(),
		middleware.LoggingMiddleware(logger),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", telemetry.Handler())

	v1 := router.Group("/v1", middleware.AuthMiddleware())
	handler.RegisterRoutes(v1, txHandler, accountHandler, profileHandler)

	gateway := worker.NewGatewayHandler(a.Engine, logger)
	go func() {
		subscriber := events.NewSubscriber(a.Redis.Client, events.SubscriberConfig{
			Group:        "transaction-service-gateway",
			Consumer:     cfg.Worker.ConsumerName,
			Stream:       events.GatewayResultsStream,
			Handler:      gateway.Handle,
			ClaimMinIdle: cfg.Worker.ClaimMinIdle,
			Logger:       logger,
		})
		if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("gateway subscriber stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("transaction service starting", "port", cfg.Server.Port, "store", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
