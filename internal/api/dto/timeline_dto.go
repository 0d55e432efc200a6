package dto

import (
	"time"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/service"
)

// TimelineEventResponse is one timeline entry as returned by the API.
type TimelineEventResponse struct {
	ID                   string                        `json:"id"`
	CaseID               string                        `json:"case_id"`
	EventType            domain.TimelineEventType      `json:"event_type"`
	EventLabel           string                        `json:"event_label"`
	Stage                domain.Stage                  `json:"stage"`
	StageLabel           string                        `json:"stage_label"`
	PreviousStage        *domain.Stage                 `json:"previous_stage,omitempty"`
	ActorID              *string                       `json:"actor_id"`
	ActorType            domain.ActorType              `json:"actor_type"`
	AssignedToID         *string                       `json:"assigned_to_id,omitempty"`
	EscalatedToID        *string                       `json:"escalated_to_id,omitempty"`
	EventAt              time.Time                     `json:"event_at"`
	DurationFromPrevious int64                         `json:"duration_from_previous"`
	DurationInStage      int64                         `json:"duration_in_stage"`
	TotalCaseDuration    int64                         `json:"total_case_duration"`
	IsEscalation         bool                          `json:"is_escalation"`
	EscalationLevel      int                           `json:"escalation_level,omitempty"`
	EscalationReason     *string                       `json:"escalation_reason,omitempty"`
	EscalationRuleID     *string                       `json:"escalation_rule_id,omitempty"`
	SLABreached          bool                          `json:"sla_breached"`
	SLADeadline          *time.Time                    `json:"sla_deadline,omitempty"`
	SLARemainingMinutes  *int64                        `json:"sla_remaining_minutes,omitempty"`
	IsInternal           bool                          `json:"is_internal"`
	IsVisibleToReporter  bool                          `json:"is_visible_to_reporter"`
	Title                string                        `json:"title"`
	Description          string                        `json:"description"`
	Metadata             map[string]any                `json:"metadata"`
	Changes              map[string]domain.FieldChange `json:"changes"`
	CreatedAt            time.Time                     `json:"created_at"`
}

// TimelineEvent maps a service entry to its response shape.
func TimelineEvent(entry service.TimelineEntry) TimelineEventResponse {
	e := entry.TimelineEvent
	return TimelineEventResponse{
		ID:                   e.ID,
		CaseID:               e.CaseID,
		EventType:            e.EventType,
		EventLabel:           entry.EventLabel,
		Stage:                e.Stage,
		StageLabel:           entry.StageLabel,
		PreviousStage:        e.PreviousStage,
		ActorID:              e.ActorID,
		ActorType:            e.ActorType,
		AssignedToID:         e.AssignedToID,
		EscalatedToID:        e.EscalatedToID,
		EventAt:              e.EventAt,
		DurationFromPrevious: e.DurationFromPrevious,
		DurationInStage:      e.DurationInStage,
		TotalCaseDuration:    e.TotalCaseDuration,
		IsEscalation:         e.IsEscalation,
		EscalationLevel:      e.EscalationLevel,
		EscalationReason:     e.EscalationReason,
		EscalationRuleID:     e.EscalationRuleID,
		SLABreached:          e.SLABreached,
		SLADeadline:          e.SLADeadline,
		SLARemainingMinutes:  e.SLARemainingMinutes,
		IsInternal:           e.IsInternal,
		IsVisibleToReporter:  e.IsVisibleToReporter,
		Title:                e.Title,
		Description:          e.Description,
		Metadata:             e.Metadata,
		Changes:              e.Changes,
		CreatedAt:            e.CreatedAt,
	}
}
