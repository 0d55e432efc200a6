package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/events"
	"github.com/spec-kit/case-timeline-service/internal/observability"
	"github.com/spec-kit/case-timeline-service/internal/repository"
)

// CaseWriter is the case write path escalation side effects go through.
type CaseWriter interface {
	Reassign(ctx context.Context, actor domain.Actor, caseID, assigneeID, reason string) (*domain.Case, error)
	ChangePriority(ctx context.Context, actor domain.Actor, caseID string, priority domain.CasePriority) (*domain.Case, error)
}

// EscalationNotifier delivers escalation notifications.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, c *domain.Case, esc *domain.Escalation) int
}

// Escalator fires one rule for one case.
type Escalator interface {
	Execute(ctx context.Context, c *domain.Case, rule *domain.EscalationRule, overdueMinutes int64) (*domain.Escalation, bool, error)
}

// EscalationExecutor records escalations and applies their follow-up actions.
type EscalationExecutor struct {
	escalations repository.EscalationRepository
	users       repository.UserRepository
	timeline    *TimelineService
	cases       CaseWriter
	notifier    EscalationNotifier
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// ExecutorDependencies bundles collaborators.
type ExecutorDependencies struct {
	EscalationRepo repository.EscalationRepository
	UserRepo       repository.UserRepository
	Timeline       *TimelineService
	Cases          CaseWriter
	Notifier       EscalationNotifier
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewEscalationExecutor creates the executor.
func NewEscalationExecutor(deps ExecutorDependencies) *EscalationExecutor {
	e := &EscalationExecutor{
		escalations: deps.EscalationRepo,
		users:       deps.UserRepo,
		timeline:    deps.Timeline,
		cases:       deps.Cases,
		notifier:    deps.Notifier,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Execute records the escalation and its timeline event atomically, then applies
// reassignment, priority change and notifications on a best-effort basis.
// created is false when an unresolved escalation for (case, rule) already existed.
func (e *EscalationExecutor) Execute(ctx context.Context, c *domain.Case, rule *domain.EscalationRule, overdueMinutes int64) (*domain.Escalation, bool, error) {
	stage := domain.StageForStatus(c.Status)
	logger := e.logger.With(
		zap.String("case_id", c.ID),
		zap.String("rule_id", rule.ID),
		zap.String("stage", string(stage)))

	users, emails, err := e.resolveRecipients(ctx, c, rule)
	if err != nil {
		e.metrics.RecordEscalationError("recipients")
		return nil, false, fmt.Errorf("resolve recipients: %w", err)
	}

	reason := escalationReason(stage, overdueMinutes, rule.EscalationThreshold)
	esc := &domain.Escalation{
		ID:               uuid.NewString(),
		CaseID:           c.ID,
		CompanyID:        c.CompanyID,
		EscalationRuleID: rule.ID,
		Stage:            stage,
		EscalationLevel:  rule.EscalationLevel,
		Reason:           reason,
		OverdueMinutes:   overdueMinutes,
		NotifiedUsers:    users,
		NotifiedEmails:   emails,
	}

	_, err = e.timeline.RecordWith(ctx, c, domain.EventEscalated, stage, EventOptions{
		Actor:         domain.SystemActor,
		EscalatedToID: rule.EscalationToUserID,
		Description:   reason,
		IsInternal:    true,
		Metadata: map[string]any{
			"escalation_id":    esc.ID,
			"escalation_level": rule.EscalationLevel,
			"overdue_minutes":  overdueMinutes,
			"threshold":        rule.EscalationThreshold,
			"rule_name":        rule.Name,
		},
		Escalation: &EscalationDetails{
			Level:  rule.LevelOrdinal(),
			Reason: reason,
			RuleID: rule.ID,
		},
	}, func(ctx context.Context, event *domain.TimelineEvent) error {
		return e.escalations.CreateWithEvent(ctx, esc, event)
	})
	if err != nil {
		if repository.IsDuplicateEscalation(err) {
			e.metrics.RecordEscalationSkipped("duplicate")
			logger.Debug("escalation already open")
			return nil, false, nil
		}
		e.metrics.RecordEscalationError("decision")
		return nil, false, fmt.Errorf("record escalation: %w", err)
	}
	e.metrics.RecordEscalationFired(string(stage), rule.EscalationLevel)
	logger.Info("case escalated",
		zap.String("escalation_id", esc.ID),
		zap.Int64("overdue_minutes", overdueMinutes),
		zap.Int("notified_users", len(users)),
		zap.Int("notified_emails", len(emails)))

	current := c
	if updated := e.autoReassign(ctx, logger, current, rule, esc); updated != nil {
		current = updated
	}
	if updated := e.autoChangePriority(ctx, logger, current, rule, esc); updated != nil {
		current = updated
	}

	if e.notifier != nil {
		delivered := e.notifier.NotifyEscalation(ctx, current, esc)
		total := len(esc.NotifiedUsers) + len(esc.NotifiedEmails)
		if delivered < total {
			logger.Warn("escalation notifications partially failed",
				zap.String("escalation_id", esc.ID),
				zap.Int("delivered", delivered),
				zap.Int("total", total))
		}
	}

	e.publish(ctx, current, esc)
	return esc, true, nil
}

func (e *EscalationExecutor) autoReassign(ctx context.Context, logger *zap.Logger, c *domain.Case, rule *domain.EscalationRule, esc *domain.Escalation) *domain.Case {
	if !rule.AutoReassign || rule.ReassignToUserID == nil || *rule.ReassignToUserID == "" {
		return nil
	}
	targetID := *rule.ReassignToUserID
	target, err := e.users.GetByID(ctx, targetID)
	if err != nil {
		e.metrics.RecordEscalationError("reassign")
		logger.Warn("reassign target lookup failed", zap.String("target_id", targetID), zap.Error(err))
		return nil
	}
	if !target.Active {
		logger.Warn("reassign target inactive", zap.String("target_id", targetID))
		return nil
	}
	if c.AssigneeID != nil && *c.AssigneeID == target.ID {
		return nil
	}

	updated, err := e.cases.Reassign(ctx, domain.SystemActor, c.ID, target.ID, esc.Reason)
	if err != nil {
		e.metrics.RecordEscalationError("reassign")
		logger.Error("auto reassign failed", zap.String("target_id", targetID), zap.Error(err))
		return nil
	}
	if err := e.escalations.MarkReassigned(ctx, esc.ID, target.ID); err != nil {
		e.metrics.RecordEscalationError("reassign")
		logger.Error("record reassignment failed", zap.String("escalation_id", esc.ID), zap.Error(err))
		return updated
	}
	esc.WasReassigned = true
	esc.ReassignedToID = &target.ID
	return updated
}

func (e *EscalationExecutor) autoChangePriority(ctx context.Context, logger *zap.Logger, c *domain.Case, rule *domain.EscalationRule, esc *domain.Escalation) *domain.Case {
	if !rule.AutoChangePriority || strings.TrimSpace(rule.NewPriority) == "" {
		return nil
	}
	priority, ok := domain.ParsePriority(rule.NewPriority)
	if !ok {
		logger.Warn("unknown target priority", zap.String("new_priority", rule.NewPriority))
		return nil
	}
	old := c.Priority
	if old == priority {
		return nil
	}

	updated, err := e.cases.ChangePriority(ctx, domain.SystemActor, c.ID, priority)
	if err != nil {
		e.metrics.RecordEscalationError("priority")
		logger.Error("auto priority change failed", zap.Error(err))
		return nil
	}
	if err := e.escalations.MarkPriorityChanged(ctx, esc.ID, old, priority); err != nil {
		e.metrics.RecordEscalationError("priority")
		logger.Error("record priority change failed", zap.String("escalation_id", esc.ID), zap.Error(err))
		return updated
	}
	esc.PriorityChanged = true
	esc.OldPriority = &old
	esc.NewPriority = &priority
	return updated
}

// resolveRecipients returns deduplicated user ids in discovery order and raw emails
// deduplicated case-insensitively among themselves.
func (e *EscalationExecutor) resolveRecipients(ctx context.Context, c *domain.Case, rule *domain.EscalationRule) ([]string, []string, error) {
	seen := map[string]struct{}{}
	var users []string
	addUser := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	addRole := func(role domain.UserRole, companyID, branchID *string) error {
		list, err := e.users.List(ctx, repository.DirectoryFilter{
			Role:      &role,
			CompanyID: companyID,
			BranchID:  branchID,
			Active:    ptrBool(true),
		})
		if err != nil {
			return fmt.Errorf("list %s: %w", role, err)
		}
		for _, u := range list {
			addUser(u.ID)
		}
		return nil
	}

	if rule.NotifyCurrentAssignee && c.AssigneeID != nil {
		addUser(*c.AssigneeID)
	}
	if rule.NotifyBranchAdmin && c.BranchID != nil {
		if err := addRole(domain.RoleBranchAdmin, &c.CompanyID, c.BranchID); err != nil {
			return nil, nil, err
		}
	}
	if rule.NotifyCompanyAdmin {
		if err := addRole(domain.RoleCompanyAdmin, &c.CompanyID, nil); err != nil {
			return nil, nil, err
		}
	}
	if rule.NotifySuperAdmin {
		if err := addRole(domain.RoleSuperAdmin, nil, nil); err != nil {
			return nil, nil, err
		}
	}
	if rule.EscalationToUserID != nil {
		addUser(*rule.EscalationToUserID)
	}

	return users, dedupeEmails(rule.NotificationEmails), nil
}

func dedupeEmails(raw []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, email := range raw {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, email)
	}
	return out
}

func escalationReason(stage domain.Stage, overdueMinutes int64, threshold int) string {
	return fmt.Sprintf("Case has been in %s stage for %s, exceeding the %s threshold",
		stage.Label(), FormatMinutes(overdueMinutes), FormatMinutes(int64(threshold)))
}

func (e *EscalationExecutor) publish(ctx context.Context, c *domain.Case, esc *domain.Escalation) {
	if e.dispatcher == nil {
		return
	}
	_ = e.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventCaseEscalated,
		CaseID:    c.ID,
		CompanyID: c.CompanyID,
		Actor:     domain.SystemActor,
		Timestamp: e.now().UTC(),
		Payload: events.CaseEscalatedPayload{
			EscalationID:    esc.ID,
			RuleID:          esc.EscalationRuleID,
			Stage:           esc.Stage,
			EscalationLevel: esc.EscalationLevel,
			OverdueMinutes:  esc.OverdueMinutes,
		},
	})
}

func ptrBool(v bool) *bool {
	return &v
}
