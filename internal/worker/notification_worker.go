package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/messaging"
	"github.com/spec-kit/case-timeline-service/internal/service"
)

// NotificationWorker owns the notification subscribers and the broker connection behind them.
type NotificationWorker struct {
	notifications *service.NotificationService
	publisher     messaging.Publisher
	logger        *zap.Logger
}

// NewNotificationWorker creates the worker.
func NewNotificationWorker(notifications *service.NotificationService, publisher messaging.Publisher, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{notifications: notifications, publisher: publisher, logger: logger}
}

// Start registers the domain event subscribers.
func (w *NotificationWorker) Start() {
	if w.notifications == nil {
		return
	}
	w.notifications.RegisterHandlers()
	w.logger.Info("notification subscribers registered")
}

// Stop closes the publisher.
func (w *NotificationWorker) Stop() {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Close(); err != nil {
		w.logger.Warn("closing notification publisher", zap.Error(err))
	}
}
