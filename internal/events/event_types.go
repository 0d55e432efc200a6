package events

import (
	"time"

	"github.com/spec-kit/case-timeline-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCaseStatusChanged   EventType = "case_status_changed"
	EventCasePriorityChanged EventType = "case_priority_changed"
	EventCaseAssigned        EventType = "case_assigned"
	EventCaseEscalated       EventType = "case_escalated"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	CaseID    string       `json:"case_id"`
	CompanyID string       `json:"company_id"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   interface{}  `json:"payload"`
}

// CaseStatusChangedPayload payload.
type CaseStatusChangedPayload struct {
	OldStatus domain.CaseStatus `json:"old_status"`
	NewStatus domain.CaseStatus `json:"new_status"`
	OldStage  domain.Stage      `json:"old_stage"`
	NewStage  domain.Stage      `json:"new_stage"`
	Note      string            `json:"note,omitempty"`
}

// CasePriorityChangedPayload payload.
type CasePriorityChangedPayload struct {
	OldPriority domain.CasePriority `json:"old_priority"`
	NewPriority domain.CasePriority `json:"new_priority"`
}

// CaseAssignedPayload payload. A nil NewAssigneeID means the case was unassigned.
type CaseAssignedPayload struct {
	PreviousAssigneeID *string `json:"previous_assignee_id,omitempty"`
	NewAssigneeID      *string `json:"new_assignee_id,omitempty"`
}

// CaseEscalatedPayload payload.
type CaseEscalatedPayload struct {
	EscalationID    string       `json:"escalation_id"`
	RuleID          string       `json:"escalation_rule_id"`
	Stage           domain.Stage `json:"stage"`
	EscalationLevel string       `json:"escalation_level"`
	OverdueMinutes  int64        `json:"overdue_minutes"`
}
