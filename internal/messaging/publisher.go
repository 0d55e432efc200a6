package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Publisher delivers JSON messages to the outbound messaging collaborator.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close() error
}

type logPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a Publisher that only logs messages. Used when no broker is configured.
func NewLogPublisher(logger *zap.Logger) Publisher {
	return &logPublisher{logger: logger}
}

func (p *logPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	p.logger.Info("message published",
		zap.String("routing_key", routingKey),
		zap.ByteString("body", body))
	return nil
}

func (p *logPublisher) Close() error { return nil }
