package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/case-timeline-service/internal/api/http"
	"github.com/spec-kit/case-timeline-service/internal/api/http/handlers"
	"github.com/spec-kit/case-timeline-service/internal/auth"
	"github.com/spec-kit/case-timeline-service/internal/config"
	"github.com/spec-kit/case-timeline-service/internal/observability"
	"github.com/spec-kit/case-timeline-service/internal/wire"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	engine, err := wire.NewEngine(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer engine.Close()

	if cfg.Scanner.Enabled {
		engine.EscalationWorker.Start(ctx)
	} else {
		logger.Info("escalation scanner disabled")
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, engine.Users)

	var redisPinger handlers.Pinger
	if engine.Redis.Client != nil {
		redisPinger = engine.Redis
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, engine.Postgres, redisPinger),
		Cases:          handlers.NewCasesHandler(engine.Cases, engine.Escalations),
		Timeline:       handlers.NewTimelineHandler(engine.Timeline, engine.Escalations),
		Escalations:    handlers.NewEscalationsHandler(engine.Escalations),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
