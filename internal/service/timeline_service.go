package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/observability"
	"github.com/spec-kit/case-timeline-service/internal/persistence"
	"github.com/spec-kit/case-timeline-service/internal/repository"
	apperrors "github.com/spec-kit/case-timeline-service/pkg/util"
)

// ErrAlreadySubmitted is returned when a case's timeline already records its intake.
var ErrAlreadySubmitted = errors.New("case already submitted")

// EscalationDetails marks a timeline event as an escalation.
type EscalationDetails struct {
	Level  int
	Reason string
	RuleID string
}

// EventOptions shapes a timeline event beyond its case, type and stage.
type EventOptions struct {
	Actor         domain.Actor
	EventAt       *time.Time
	AssignedToID  *string
	EscalatedToID *string
	Title         string
	Description   string
	IsInternal    bool
	Metadata      map[string]any
	Changes       map[string]domain.FieldChange
	Escalation    *EscalationDetails
	// FromStatus is the status the case left, for events recording a status transition.
	FromStatus    *domain.CaseStatus
}

// PersistFunc stores a fully derived event. It runs while the case's timeline lock is held.
type PersistFunc func(ctx context.Context, event *domain.TimelineEvent) error

// TimelineEntry is a timeline event with human-readable labels.
type TimelineEntry struct {
	domain.TimelineEvent
	EventLabel string
	StageLabel string
}

// TimelineService owns the append-only case timeline.
type TimelineService struct {
	events  repository.TimelineEventRepository
	cases   repository.CaseRepository
	catalog *RuleCatalog
	locker  persistence.Locker
	lockTTL time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// TimelineDependencies bundles collaborators.
type TimelineDependencies struct {
	EventRepo repository.TimelineEventRepository
	CaseRepo  repository.CaseRepository
	Catalog   *RuleCatalog
	Locker    persistence.Locker
	LockTTL   time.Duration
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewTimelineService constructs the service.
func NewTimelineService(deps TimelineDependencies) *TimelineService {
	s := &TimelineService{
		events:  deps.EventRepo,
		cases:   deps.CaseRepo,
		catalog: deps.Catalog,
		locker:  deps.Locker,
		lockTTL: deps.LockTTL,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		now:     deps.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 10 * time.Second
	}
	return s
}

// LogEvent derives and appends one event for c.
func (s *TimelineService) LogEvent(ctx context.Context, c *domain.Case, eventType domain.TimelineEventType, stage domain.Stage, opts EventOptions) (*domain.TimelineEvent, error) {
	return s.RecordWith(ctx, c, eventType, stage, opts, s.events.Create)
}

// RecordWith derives an event from the case's log and hands it to persist, all under the
// case's timeline lock. Nothing is written if persist fails.
func (s *TimelineService) RecordWith(ctx context.Context, c *domain.Case, eventType domain.TimelineEventType, stage domain.Stage, opts EventOptions, persist PersistFunc) (*domain.TimelineEvent, error) {
	if c == nil {
		return nil, apperrors.NewValidationError("case required", nil)
	}
	if !stage.Valid() {
		stage = domain.StageForStatus(c.Status)
	}

	unlock, err := s.lockCase(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("lock timeline for case %s: %w", c.ID, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("timeline lock release failed", zap.String("case_id", c.ID), zap.Error(err))
		}
	}()

	history, err := s.events.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load timeline for case %s: %w", c.ID, err)
	}

	event := s.buildEvent(c, eventType, stage, opts, history)

	if s.catalog != nil {
		rule, err := s.catalog.ApplicableRule(ctx, c, stage)
		if err != nil {
			s.logger.Warn("sla rule lookup failed", zap.String("case_id", c.ID), zap.Error(err))
		} else if sla := ComputeSLA(rule, stageStart(c, history, stage, event.EventAt, event.PreviousStage != nil), event.EventAt); sla != nil {
			event.SLABreached = sla.Breached
			event.SLADeadline = &sla.Deadline
			event.SLARemainingMinutes = &sla.RemainingMinutes
		}
	}

	if err := persist(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *TimelineService) lockCase(ctx context.Context, caseID string) (persistence.Unlock, error) {
	if s.locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	return s.locker.Lock(ctx, "timeline:case:"+caseID, s.lockTTL)
}

// stageStart is when the current run of stage began for an event landing at eventAt.
// An event that changes stage starts a new run; otherwise a case with no history has been
// in stage since creation.
func stageStart(c *domain.Case, history []domain.TimelineEvent, stage domain.Stage, eventAt time.Time, changesStage bool) time.Time {
	if changesStage {
		return eventAt
	}
	if len(history) == 0 {
		if c.CreatedAt.After(eventAt) {
			return eventAt
		}
		return c.CreatedAt
	}
	return StageEntryTime(history, stage, c.CreatedAt, eventAt)
}

func (s *TimelineService) buildEvent(c *domain.Case, eventType domain.TimelineEventType, stage domain.Stage, opts EventOptions, history []domain.TimelineEvent) *domain.TimelineEvent {
	eventAt := s.now().UTC()
	if opts.EventAt != nil {
		eventAt = opts.EventAt.UTC()
	}

	actor := opts.Actor
	if actor.Type == "" {
		actor = domain.SystemActor
	}

	title := opts.Title
	if title == "" {
		title = eventType.Label()
	}

	event := &domain.TimelineEvent{
		ID:                  uuid.NewString(),
		CaseID:              c.ID,
		CompanyID:           c.CompanyID,
		BranchID:            c.BranchID,
		EventType:           eventType,
		Stage:               stage,
		ActorID:             actor.ID,
		ActorType:           actor.Type,
		AssignedToID:        opts.AssignedToID,
		EscalatedToID:       opts.EscalatedToID,
		IsInternal:          opts.IsInternal,
		IsVisibleToReporter: !opts.IsInternal,
		Title:               title,
		Description:         opts.Description,
		Metadata:            opts.Metadata,
		Changes:             opts.Changes,
	}

	if len(history) > 0 {
		last := history[len(history)-1]
		// event_at never goes backwards within a case
		if eventAt.Before(last.EventAt) {
			eventAt = last.EventAt
		}
		if last.Stage != stage {
			prev := last.Stage
			event.PreviousStage = &prev
		}
		event.DurationFromPrevious = nonNegativeMinutes(eventAt.Sub(last.EventAt))
	} else {
		if opts.FromStatus != nil {
			if prev := domain.StageForStatus(*opts.FromStatus); prev != stage {
				event.PreviousStage = &prev
			}
		}
		event.DurationFromPrevious = nonNegativeMinutes(eventAt.Sub(c.CreatedAt))
	}
	event.EventAt = eventAt
	event.DurationInStage = nonNegativeMinutes(eventAt.Sub(stageStart(c, history, stage, eventAt, event.PreviousStage != nil)))
	event.TotalCaseDuration = nonNegativeMinutes(eventAt.Sub(c.CreatedAt))

	if opts.Escalation != nil {
		event.IsEscalation = true
		event.EscalationLevel = opts.Escalation.Level
		if event.EscalationLevel < 0 {
			event.EscalationLevel = 0
		}
		reason := opts.Escalation.Reason
		ruleID := opts.Escalation.RuleID
		event.EscalationReason = &reason
		event.EscalationRuleID = &ruleID
	}
	return event
}

// GetTimeline returns the case's events in order. Internal events are dropped unless includeInternal.
func (s *TimelineService) GetTimeline(ctx context.Context, caseID string, includeInternal bool) ([]TimelineEntry, error) {
	events, err := s.events.ListByCase(ctx, caseID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	entries := make([]TimelineEntry, 0, len(events))
	for _, e := range events {
		if e.IsInternal && !includeInternal {
			continue
		}
		entries = append(entries, TimelineEntry{
			TimelineEvent: e,
			EventLabel:    e.EventType.Label(),
			StageLabel:    e.Stage.Label(),
		})
	}
	return entries, nil
}

// GetDurationSummary loads the case and its log and summarizes stage durations.
func (s *TimelineService) GetDurationSummary(ctx context.Context, caseID string) (*DurationSummary, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("case", map[string]any{"case_id": caseID})
		}
		return nil, apperrors.MapError(err)
	}
	events, err := s.events.ListByCase(ctx, caseID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	summary := BuildDurationSummary(c, events, s.now().UTC())
	return &summary, nil
}

// LogCaseSubmitted records case intake.
// The log holds at most one intake event; a second call returns ErrAlreadySubmitted.
func (s *TimelineService) LogCaseSubmitted(ctx context.Context, c *domain.Case, actor domain.Actor) (*domain.TimelineEvent, error) {
	opts := EventOptions{
		Actor:   actor,
		EventAt: &c.CreatedAt,
	}
	return s.RecordWith(ctx, c, domain.EventSubmitted, domain.StageForStatus(c.Status), opts, func(ctx context.Context, event *domain.TimelineEvent) error {
		history, err := s.events.ListByCase(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("load timeline for case %s: %w", c.ID, err)
		}
		for _, e := range history {
			if e.EventType == domain.EventSubmitted {
				return ErrAlreadySubmitted
			}
		}
		return s.events.Create(ctx, event)
	})
}

// LogCaseAssigned records a first assignment.
func (s *TimelineService) LogCaseAssigned(ctx context.Context, c *domain.Case, actor domain.Actor, assigneeID string) (*domain.TimelineEvent, error) {
	return s.LogEvent(ctx, c, domain.EventAssigned, domain.StageForStatus(c.Status), EventOptions{
		Actor:        actor,
		AssignedToID: &assigneeID,
		Changes: map[string]domain.FieldChange{
			"assignee_id": {Old: nil, New: assigneeID},
		},
	})
}

// LogCaseReassigned records an assignee change.
func (s *TimelineService) LogCaseReassigned(ctx context.Context, c *domain.Case, actor domain.Actor, previousID *string, assigneeID, reason string) (*domain.TimelineEvent, error) {
	return s.LogEvent(ctx, c, domain.EventReassigned, domain.StageForStatus(c.Status), EventOptions{
		Actor:        actor,
		AssignedToID: &assigneeID,
		Description:  reason,
		Changes: map[string]domain.FieldChange{
			"assignee_id": {Old: derefOrNil(previousID), New: assigneeID},
		},
	})
}

// LogCaseUnassigned records removal of the assignee.
func (s *TimelineService) LogCaseUnassigned(ctx context.Context, c *domain.Case, actor domain.Actor, previousID *string) (*domain.TimelineEvent, error) {
	return s.LogEvent(ctx, c, domain.EventUnassigned, domain.StageForStatus(c.Status), EventOptions{
		Actor: actor,
		Changes: map[string]domain.FieldChange{
			"assignee_id": {Old: derefOrNil(previousID), New: nil},
		},
	})
}

// LogInvestigationStarted records entry into the investigation stage.
func (s *TimelineService) LogInvestigationStarted(ctx context.Context, c *domain.Case, actor domain.Actor, oldStatus domain.CaseStatus) (*domain.TimelineEvent, error) {
	return s.LogEvent(ctx, c, domain.EventInvestigationStarted, domain.StageForStatus(c.Status), EventOptions{
		Actor:      actor,
		Changes:    statusChange(oldStatus, c.Status),
		FromStatus: &oldStatus,
	})
}

// LogStatusChanged records a generic status transition.
func (s *TimelineService) LogStatusChanged(ctx context.Context, c *domain.Case, actor domain.Actor, oldStatus domain.CaseStatus, note string) (*domain.TimelineEvent, error) {
	return s.LogEvent(ctx, c, domain.EventStatusChanged, domain.StageForStatus(c.Status), EventOptions{
		Actor:       actor,
		Description: describeStatusChange(oldStatus, c.Status, note),
		Changes:     statusChange(oldStatus, c.Status),
		FromStatus:  &oldStatus,
	})
}

// LogCaseClosed records the transition into the closed stage.
func (s *TimelineService) LogCaseClosed(ctx context.Context, c *domain.Case, actor domain.Actor, oldStatus domain.CaseStatus, note string) (*domain.TimelineEvent, error) {
	opts := EventOptions{
		Actor:       actor,
		Description: note,
		Changes:     statusChange(oldStatus, c.Status),
		FromStatus:  &oldStatus,
	}
	if c.ResolvedAt != nil {
		opts.EventAt = c.ResolvedAt
	}
	return s.LogEvent(ctx, c, domain.EventClosed, domain.StageForStatus(c.Status), opts)
}

// LogCaseReopened records a closed case coming back.
func (s *TimelineService) LogCaseReopened(ctx context.Context, c *domain.Case, actor domain.Actor, oldStatus domain.CaseStatus, note string) (*domain.TimelineEvent, error) {
	return s.LogEvent(ctx, c, domain.EventReopened, domain.StageForStatus(c.Status), EventOptions{
		Actor:       actor,
		Description: note,
		Changes:     statusChange(oldStatus, c.Status),
		FromStatus:  &oldStatus,
	})
}

func statusChange(oldStatus, newStatus domain.CaseStatus) map[string]domain.FieldChange {
	return map[string]domain.FieldChange{
		"status": {Old: string(oldStatus), New: string(newStatus)},
	}
}

func describeStatusChange(oldStatus, newStatus domain.CaseStatus, note string) string {
	desc := fmt.Sprintf("Status changed from %s to %s", oldStatus, newStatus)
	if note != "" {
		desc += ": " + note
	}
	return desc
}

func derefOrNil(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
