package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/case-timeline-service/internal/config"
	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/events"
	"github.com/spec-kit/case-timeline-service/internal/messaging"
	"github.com/spec-kit/case-timeline-service/internal/observability"
)

const (
	channelUser  = "user"
	channelEmail = "email"
)

// outboundMessage wraps every payload handed to the messaging collaborator.
type outboundMessage struct {
	Kind    string `json:"kind"`
	From    string `json:"from,omitempty"`
	Payload any    `json:"payload"`
}

// AssignmentNotification tells a user a case was routed to them.
type AssignmentNotification struct {
	ID                 string    `json:"id"`
	CaseID             string    `json:"case_id"`
	CompanyID          string    `json:"company_id"`
	RecipientUserID    string    `json:"recipient_user_id"`
	PreviousAssigneeID *string   `json:"previous_assignee_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// NotificationService hands notification payloads to the messaging collaborator.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  messaging.Publisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        config.NotificationConfig
	now        func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, publisher messaging.Publisher, metrics *observability.Metrics, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = messaging.NewLogPublisher(logger)
	}
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventCaseAssigned, n.handleCaseAssigned)
	n.dispatcher.Subscribe(events.EventCaseEscalated, n.handleCaseEscalated)
}

// NotifyEscalation sends one message per notified user and per raw email, concurrently.
// Failures are logged per recipient and never returned. It returns the number delivered.
func (n *NotificationService) NotifyEscalation(ctx context.Context, c *domain.Case, esc *domain.Escalation) int {
	var notifications []domain.EscalationNotification
	for _, userID := range esc.NotifiedUsers {
		id := userID
		notifications = append(notifications, n.escalationPayload(c, esc, &id, nil))
	}
	for _, email := range esc.NotifiedEmails {
		addr := email
		notifications = append(notifications, n.escalationPayload(c, esc, nil, &addr))
	}
	if len(notifications) == 0 {
		return 0
	}

	results := make([]bool, len(notifications))
	var g errgroup.Group
	if n.cfg.Workers > 0 {
		g.SetLimit(n.cfg.Workers)
	}
	for i := range notifications {
		i := i
		g.Go(func() error {
			results[i] = n.sendEscalation(ctx, notifications[i])
			return nil
		})
	}
	_ = g.Wait()

	delivered := 0
	for _, ok := range results {
		if ok {
			delivered++
		}
	}
	return delivered
}

func (n *NotificationService) escalationPayload(c *domain.Case, esc *domain.Escalation, userID, email *string) domain.EscalationNotification {
	return domain.EscalationNotification{
		ID:              uuid.NewString(),
		CaseID:          c.ID,
		CompanyID:       c.CompanyID,
		EscalationID:    esc.ID,
		RuleID:          esc.EscalationRuleID,
		Stage:           esc.Stage,
		EscalationLevel: esc.EscalationLevel,
		OverdueMinutes:  esc.OverdueMinutes,
		Reason:          esc.Reason,
		RecipientUserID: userID,
		RecipientEmail:  email,
		CreatedAt:       n.now().UTC(),
	}
}

func (n *NotificationService) sendEscalation(ctx context.Context, notification domain.EscalationNotification) bool {
	channel := channelUser
	recipient := ""
	msg := outboundMessage{Kind: "escalation", Payload: notification}
	if notification.RecipientEmail != nil {
		channel = channelEmail
		recipient = *notification.RecipientEmail
		if strings.TrimSpace(n.cfg.EmailFrom) != "" {
			msg.From = n.cfg.EmailFrom
		}
	} else if notification.RecipientUserID != nil {
		recipient = *notification.RecipientUserID
	}

	err := n.publisher.Publish(ctx, n.cfg.RoutingKey, msg)
	n.metrics.RecordNotification(channel, err == nil)
	if err != nil {
		n.logger.Error("escalation notification failed",
			zap.String("case_id", notification.CaseID),
			zap.String("escalation_id", notification.EscalationID),
			zap.String("channel", channel),
			zap.String("recipient", recipient),
			zap.Error(err))
		return false
	}
	return true
}

func (n *NotificationService) handleCaseAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CaseAssignedPayload)
	if !ok || payload.NewAssigneeID == nil {
		return nil
	}
	msg := outboundMessage{
		Kind: "assignment",
		Payload: AssignmentNotification{
			ID:                 uuid.NewString(),
			CaseID:             event.CaseID,
			CompanyID:          event.CompanyID,
			RecipientUserID:    *payload.NewAssigneeID,
			PreviousAssigneeID: payload.PreviousAssigneeID,
			CreatedAt:          n.now().UTC(),
		},
	}
	err := n.publisher.Publish(ctx, n.cfg.AssignmentRoutingKey, msg)
	n.metrics.RecordNotification(channelUser, err == nil)
	return err
}

func (n *NotificationService) handleCaseEscalated(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CaseEscalatedPayload)
	if !ok {
		return nil
	}
	n.logger.Info("CaseEscalated",
		zap.String("case_id", event.CaseID),
		zap.String("escalation_id", payload.EscalationID),
		zap.String("rule_id", payload.RuleID),
		zap.String("level", payload.EscalationLevel),
		zap.Int64("overdue_minutes", payload.OverdueMinutes))
	return nil
}
