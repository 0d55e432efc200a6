// Package wire assembles the engine's repositories, services and workers from configuration.
package wire

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/config"
	"github.com/spec-kit/case-timeline-service/internal/events"
	"github.com/spec-kit/case-timeline-service/internal/messaging"
	"github.com/spec-kit/case-timeline-service/internal/observability"
	"github.com/spec-kit/case-timeline-service/internal/persistence"
	"github.com/spec-kit/case-timeline-service/internal/repository"
	"github.com/spec-kit/case-timeline-service/internal/service"
	"github.com/spec-kit/case-timeline-service/internal/worker"
)

// Engine holds every long-lived component of a running process.
type Engine struct {
	Postgres  *persistence.Postgres
	Redis     *persistence.Redis
	Publisher messaging.Publisher
	Metrics   *observability.Metrics

	Users       repository.UserRepository
	Timeline    *service.TimelineService
	Cases       *service.CaseService
	Scanner     *service.EscalationScanner
	Escalations *service.EscalationService

	EscalationWorker   *worker.EscalationWorker
	NotificationWorker *worker.NotificationWorker
}

// NewEngine connects to the backing stores and builds the service graph.
func NewEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*Engine, error) {
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	rdb := persistence.NewRedis(cfg.Redis, logger)

	publisher, err := newPublisher(cfg.Notification, logger)
	if err != nil {
		rdb.Close()
		pg.Close()
		return nil, err
	}

	pool := pg.PoolHandle()
	caseRepo := repository.NewCaseRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	eventRepo := repository.NewTimelineEventRepository(pool)
	ruleRepo := repository.NewEscalationRuleRepository(pool)
	escalationRepo := repository.NewEscalationRepository(pool)

	locker := rdb.Locker()
	catalog := service.NewRuleCatalog(ruleRepo)
	dispatcher := events.NewInMemoryDispatcher(logger)

	timeline := service.NewTimelineService(service.TimelineDependencies{
		EventRepo: eventRepo,
		CaseRepo:  caseRepo,
		Catalog:   catalog,
		Locker:    locker,
		LockTTL:   cfg.Timeline.CaseLockTTL(),
		Metrics:   metrics,
		Logger:    logger,
	})
	cases := service.NewCaseService(service.CaseDependencies{
		CaseRepo:       caseRepo,
		UserRepo:       userRepo,
		EscalationRepo: escalationRepo,
		Timeline:       timeline,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Logger:         logger,
	})
	notifications := service.NewNotificationService(dispatcher, publisher, metrics, logger, cfg.Notification)
	executor := service.NewEscalationExecutor(service.ExecutorDependencies{
		EscalationRepo: escalationRepo,
		UserRepo:       userRepo,
		Timeline:       timeline,
		Cases:          cases,
		Notifier:       notifications,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Logger:         logger,
	})
	scanner := service.NewEscalationScanner(service.ScannerDependencies{
		CaseRepo:       caseRepo,
		EventRepo:      eventRepo,
		EscalationRepo: escalationRepo,
		Catalog:        catalog,
		Executor:       executor,
		Locker:         locker,
		LockTTL:        cfg.Scanner.LockTTL(),
		Workers:        cfg.Scanner.Workers,
		Metrics:        metrics,
		Logger:         logger,
	})

	engine := &Engine{
		Postgres:           pg,
		Redis:              rdb,
		Publisher:          publisher,
		Metrics:            metrics,
		Users:              userRepo,
		Timeline:           timeline,
		Cases:              cases,
		Scanner:            scanner,
		Escalations:        service.NewEscalationService(escalationRepo, caseRepo, scanner, logger),
		EscalationWorker:   worker.NewEscalationWorker(scanner, cfg.Scanner.Interval(), logger),
		NotificationWorker: worker.NewNotificationWorker(notifications, publisher, logger),
	}
	engine.NotificationWorker.Start()
	return engine, nil
}

// Close stops workers and releases connections.
func (e *Engine) Close() {
	e.EscalationWorker.Stop()
	e.NotificationWorker.Stop()
	e.Redis.Close()
	e.Postgres.Close()
}

func newPublisher(cfg config.NotificationConfig, logger *zap.Logger) (messaging.Publisher, error) {
	if cfg.AMQPURL == "" {
		logger.Warn("AMQP_URL not provided; notifications will only be logged")
		return messaging.NewLogPublisher(logger), nil
	}
	publisher, err := messaging.ConnectRabbitMQ(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	logger.Info("connected to rabbitmq", zap.String("exchange", cfg.Exchange))
	return publisher, nil
}
