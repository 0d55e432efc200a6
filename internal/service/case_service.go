package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/events"
	"github.com/spec-kit/case-timeline-service/internal/observability"
	"github.com/spec-kit/case-timeline-service/internal/repository"
	apperrors "github.com/spec-kit/case-timeline-service/pkg/util"
)

const (
	stageChangedNote     = "stage changed"
	maxCaseWriteAttempts = 3
)

// CaseService is the single write path for case status, assignee and priority.
// The case row is persisted first; the timeline event that follows is best-effort.
type CaseService struct {
	cases       repository.CaseRepository
	users       repository.UserRepository
	escalations repository.EscalationRepository
	timeline    *TimelineService
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// CaseDependencies bundles repositories.
type CaseDependencies struct {
	CaseRepo       repository.CaseRepository
	UserRepo       repository.UserRepository
	EscalationRepo repository.EscalationRepository
	Timeline       *TimelineService
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewCaseService creates the service.
func NewCaseService(deps CaseDependencies) *CaseService {
	s := &CaseService{
		cases:       deps.CaseRepo,
		users:       deps.UserRepo,
		escalations: deps.EscalationRepo,
		timeline:    deps.Timeline,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RecordSubmission logs the intake event for a case. A case is submitted at most once.
func (s *CaseService) RecordSubmission(ctx context.Context, actor domain.Actor, caseID string) (*domain.TimelineEvent, error) {
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	event, err := s.timeline.LogCaseSubmitted(ctx, c, actor)
	if err != nil {
		if errors.Is(err, ErrAlreadySubmitted) {
			return nil, apperrors.NewConflict("case already submitted", map[string]any{"case_id": caseID})
		}
		return nil, apperrors.MapError(err)
	}
	return event, nil
}

// ChangeStatus moves a case to status. Closing stamps resolved_at, reopening clears it.
func (s *CaseService) ChangeStatus(ctx context.Context, actor domain.Actor, caseID string, status domain.CaseStatus, note string) (*domain.Case, error) {
	if status == "" {
		return nil, apperrors.NewValidationError("status required", nil)
	}

	var oldStatus domain.CaseStatus
	var wasClosed bool
	c, changed, err := s.mutateCase(ctx, caseID, func(c *domain.Case) (bool, error) {
		if c.Status == status {
			return false, nil
		}
		oldStatus = c.Status
		wasClosed = c.IsClosed()
		c.Status = status
		switch newStage := domain.StageForStatus(status); {
		case newStage == domain.StageClosed && c.ResolvedAt == nil:
			resolvedAt := s.now().UTC()
			c.ResolvedAt = &resolvedAt
		case newStage != domain.StageClosed && wasClosed:
			c.ResolvedAt = nil
		}
		return true, nil
	})
	if err != nil || !changed {
		return c, err
	}

	oldStage := domain.StageForStatus(oldStatus)
	newStage := domain.StageForStatus(status)
	eventType := statusEventType(oldStage, newStage, wasClosed)
	var logErr error
	switch eventType {
	case domain.EventClosed:
		_, logErr = s.timeline.LogCaseClosed(ctx, c, actor, oldStatus, note)
	case domain.EventReopened:
		_, logErr = s.timeline.LogCaseReopened(ctx, c, actor, oldStatus, note)
	case domain.EventInvestigationStarted:
		_, logErr = s.timeline.LogInvestigationStarted(ctx, c, actor, oldStatus)
	default:
		_, logErr = s.timeline.LogStatusChanged(ctx, c, actor, oldStatus, note)
	}
	s.timelineFailed(c.ID, eventType, logErr)

	if oldStage != newStage {
		s.resolveStaleEscalations(ctx, c.ID, newStage)
	}

	s.publish(ctx, actor, c, events.EventCaseStatusChanged, events.CaseStatusChangedPayload{
		OldStatus: oldStatus,
		NewStatus: status,
		OldStage:  oldStage,
		NewStage:  newStage,
		Note:      note,
	})
	return c, nil
}

// Assign sets the case assignee. A case with an existing assignee is logged as reassigned.
func (s *CaseService) Assign(ctx context.Context, actor domain.Actor, caseID, assigneeID string) (*domain.Case, error) {
	return s.assign(ctx, actor, caseID, assigneeID, "")
}

// Reassign moves the case to another assignee, recording reason on the timeline.
func (s *CaseService) Reassign(ctx context.Context, actor domain.Actor, caseID, assigneeID, reason string) (*domain.Case, error) {
	return s.assign(ctx, actor, caseID, assigneeID, reason)
}

func (s *CaseService) assign(ctx context.Context, actor domain.Actor, caseID, assigneeID, reason string) (*domain.Case, error) {
	if assigneeID == "" {
		return nil, apperrors.NewValidationError("assignee_id required", nil)
	}
	assignee, err := s.users.GetByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": assigneeID})
		}
		return nil, apperrors.MapError(err)
	}
	if !assignee.Active {
		return nil, apperrors.NewConflict("assignee inactive", map[string]any{"user_id": assigneeID})
	}

	var previous *string
	c, changed, err := s.mutateCase(ctx, caseID, func(c *domain.Case) (bool, error) {
		if c.AssigneeID != nil && *c.AssigneeID == assignee.ID {
			return false, nil
		}
		previous = c.AssigneeID
		c.AssigneeID = &assignee.ID
		return true, nil
	})
	if err != nil || !changed {
		return c, err
	}

	if previous == nil {
		_, err = s.timeline.LogCaseAssigned(ctx, c, actor, assignee.ID)
		s.timelineFailed(c.ID, domain.EventAssigned, err)
	} else {
		_, err = s.timeline.LogCaseReassigned(ctx, c, actor, previous, assignee.ID, reason)
		s.timelineFailed(c.ID, domain.EventReassigned, err)
	}

	s.publish(ctx, actor, c, events.EventCaseAssigned, events.CaseAssignedPayload{
		PreviousAssigneeID: previous,
		NewAssigneeID:      c.AssigneeID,
	})
	return c, nil
}

// Unassign clears the case assignee.
func (s *CaseService) Unassign(ctx context.Context, actor domain.Actor, caseID string) (*domain.Case, error) {
	var previous *string
	c, changed, err := s.mutateCase(ctx, caseID, func(c *domain.Case) (bool, error) {
		if c.AssigneeID == nil {
			return false, nil
		}
		previous = c.AssigneeID
		c.AssigneeID = nil
		return true, nil
	})
	if err != nil || !changed {
		return c, err
	}
	_, err = s.timeline.LogCaseUnassigned(ctx, c, actor, previous)
	s.timelineFailed(c.ID, domain.EventUnassigned, err)

	s.publish(ctx, actor, c, events.EventCaseAssigned, events.CaseAssignedPayload{
		PreviousAssigneeID: previous,
	})
	return c, nil
}

// ChangePriority updates the case priority ordinal.
func (s *CaseService) ChangePriority(ctx context.Context, actor domain.Actor, caseID string, priority domain.CasePriority) (*domain.Case, error) {
	if priority < domain.CasePriorityLow || priority > domain.CasePriorityCritical {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": int(priority)})
	}
	var old domain.CasePriority
	c, changed, err := s.mutateCase(ctx, caseID, func(c *domain.Case) (bool, error) {
		if c.Priority == priority {
			return false, nil
		}
		old = c.Priority
		c.Priority = priority
		return true, nil
	})
	if err != nil || !changed {
		return c, err
	}

	_, err = s.timeline.LogEvent(ctx, c, domain.EventStatusChanged, domain.StageForStatus(c.Status), EventOptions{
		Actor:       actor,
		Title:       "Priority changed",
		Description: "Priority changed from " + old.String() + " to " + priority.String(),
		Changes: map[string]domain.FieldChange{
			"priority": {Old: int(old), New: int(priority)},
		},
	})
	s.timelineFailed(c.ID, domain.EventStatusChanged, err)

	s.publish(ctx, actor, c, events.EventCasePriorityChanged, events.CasePriorityChangedPayload{
		OldPriority: old,
		NewPriority: priority,
	})
	return c, nil
}

// mutateCase loads the case, applies change and writes it back guarded by updated_at.
// When another writer got there first the case is reloaded and change applied again, so a
// write never restores fields it did not touch. change returning false skips the write.
func (s *CaseService) mutateCase(ctx context.Context, caseID string, change func(c *domain.Case) (bool, error)) (*domain.Case, bool, error) {
	for attempt := 1; ; attempt++ {
		c, err := s.loadCase(ctx, caseID)
		if err != nil {
			return nil, false, err
		}
		changed, err := change(c)
		if err != nil || !changed {
			return c, false, err
		}
		err = s.cases.Update(ctx, c)
		if err == nil {
			return c, true, nil
		}
		if !errors.Is(err, repository.ErrStaleCase) {
			return nil, false, apperrors.MapError(err)
		}
		if attempt >= maxCaseWriteAttempts {
			return nil, false, apperrors.NewConflict("case modified concurrently", map[string]any{"case_id": caseID})
		}
		s.logger.Debug("case write lost a race, retrying", zap.String("case_id", caseID), zap.Int("attempt", attempt))
	}
}

func (s *CaseService) loadCase(ctx context.Context, caseID string) (*domain.Case, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("case", map[string]any{"case_id": caseID})
		}
		return nil, apperrors.MapError(err)
	}
	return c, nil
}

// timelineFailed reports a lost timeline write without failing the case mutation.
func (s *CaseService) timelineFailed(caseID string, eventType domain.TimelineEventType, err error) {
	if err == nil {
		return
	}
	s.logger.Error("timeline write failed",
		zap.String("case_id", caseID),
		zap.String("event_type", string(eventType)),
		zap.Error(err))
	s.metrics.RecordTimelineFailure(string(eventType))
}

func (s *CaseService) resolveStaleEscalations(ctx context.Context, caseID string, stage domain.Stage) {
	if s.escalations == nil {
		return
	}
	n, err := s.escalations.ResolveOpenForCase(ctx, caseID, stage, stageChangedNote, s.now().UTC())
	if err != nil {
		s.logger.Error("resolve escalations on stage change failed", zap.String("case_id", caseID), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("escalations resolved on stage change",
			zap.String("case_id", caseID),
			zap.String("stage", string(stage)),
			zap.Int64("count", n))
	}
}

func (s *CaseService) publish(ctx context.Context, actor domain.Actor, c *domain.Case, eventType events.EventType, payload any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		CaseID:    c.ID,
		CompanyID: c.CompanyID,
		Actor:     actor,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	})
}

func statusEventType(oldStage, newStage domain.Stage, wasClosed bool) domain.TimelineEventType {
	switch {
	case newStage == domain.StageClosed:
		return domain.EventClosed
	case wasClosed:
		return domain.EventReopened
	case newStage == domain.StageInvestigation && oldStage != domain.StageInvestigation:
		return domain.EventInvestigationStarted
	default:
		return domain.EventStatusChanged
	}
}
