package dto

import (
	"time"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/service"
)

// ResolveEscalationRequest payload.
type ResolveEscalationRequest struct {
	Note string `json:"note"`
}

// EscalationResponse describes one escalation record.
type EscalationResponse struct {
	ID               string               `json:"id"`
	CaseID           string               `json:"case_id"`
	EscalationRuleID string               `json:"escalation_rule_id"`
	Stage            domain.Stage         `json:"stage"`
	EscalationLevel  string               `json:"escalation_level"`
	Reason           string               `json:"reason"`
	OverdueMinutes   int64                `json:"overdue_minutes"`
	NotifiedUsers    []string             `json:"notified_users"`
	NotifiedEmails   []string             `json:"notified_emails"`
	IsResolved       bool                 `json:"is_resolved"`
	ResolvedAt       *time.Time           `json:"resolved_at,omitempty"`
	ResolvedByID     *string              `json:"resolved_by_id,omitempty"`
	ResolutionNote   *string              `json:"resolution_note,omitempty"`
	WasReassigned    bool                 `json:"was_reassigned"`
	ReassignedToID   *string              `json:"reassigned_to_id,omitempty"`
	PriorityChanged  bool                 `json:"priority_changed"`
	OldPriority      *domain.CasePriority `json:"old_priority,omitempty"`
	NewPriority      *domain.CasePriority `json:"new_priority,omitempty"`
	TimelineEventID  *string              `json:"timeline_event_id,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

// Escalation maps a domain escalation to its response shape.
func Escalation(e *domain.Escalation) EscalationResponse {
	users := e.NotifiedUsers
	if users == nil {
		users = []string{}
	}
	emails := e.NotifiedEmails
	if emails == nil {
		emails = []string{}
	}
	return EscalationResponse{
		ID:               e.ID,
		CaseID:           e.CaseID,
		EscalationRuleID: e.EscalationRuleID,
		Stage:            e.Stage,
		EscalationLevel:  e.EscalationLevel,
		Reason:           e.Reason,
		OverdueMinutes:   e.OverdueMinutes,
		NotifiedUsers:    users,
		NotifiedEmails:   emails,
		IsResolved:       e.IsResolved,
		ResolvedAt:       e.ResolvedAt,
		ResolvedByID:     e.ResolvedByID,
		ResolutionNote:   e.ResolutionNote,
		WasReassigned:    e.WasReassigned,
		ReassignedToID:   e.ReassignedToID,
		PriorityChanged:  e.PriorityChanged,
		OldPriority:      e.OldPriority,
		NewPriority:      e.NewPriority,
		TimelineEventID:  e.TimelineEventID,
		CreatedAt:        e.CreatedAt,
	}
}

// ScanResultResponse summarizes one scanner pass.
type ScanResultResponse struct {
	StartedAt      time.Time `json:"started_at"`
	DurationMillis int64     `json:"duration_ms"`
	LockedOut      bool      `json:"locked_out"`
	CasesEvaluated int       `json:"cases_evaluated"`
	RulesMatched   int       `json:"rules_matched"`
	Overdue        int       `json:"overdue"`
	Escalated      int       `json:"escalated"`
	AlreadyOpen    int       `json:"already_open"`
	Failed         int       `json:"failed"`
}

// ScanResult maps a scanner result to its response shape.
func ScanResult(r service.ScanResult) ScanResultResponse {
	return ScanResultResponse{
		StartedAt:      r.StartedAt,
		DurationMillis: r.Duration.Milliseconds(),
		LockedOut:      r.LockedOut,
		CasesEvaluated: r.CasesEvaluated,
		RulesMatched:   r.RulesMatched,
		Overdue:        r.Overdue,
		Escalated:      r.Escalated,
		AlreadyOpen:    r.AlreadyOpen,
		Failed:         r.Failed,
	}
}
