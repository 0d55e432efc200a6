package domain

import "time"

// Escalation records one rule firing for one case. While IsResolved is false the same
// (case, rule) pair must not fire again.
type Escalation struct {
	ID               string
	CaseID           string
	CompanyID        string
	EscalationRuleID string
	Stage            Stage
	EscalationLevel  string
	Reason           string
	OverdueMinutes   int64

	NotifiedUsers  []string
	NotifiedEmails []string

	IsResolved     bool
	ResolvedAt     *time.Time
	ResolvedByID   *string
	ResolutionNote *string

	WasReassigned  bool
	ReassignedToID *string

	PriorityChanged bool
	OldPriority     *CasePriority
	NewPriority     *CasePriority

	TimelineEventID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EscalationNotification is the payload handed to the messaging collaborator.
// Exactly one of RecipientUserID and RecipientEmail is set.
type EscalationNotification struct {
	ID              string    `json:"id"`
	CaseID          string    `json:"case_id"`
	CompanyID       string    `json:"company_id"`
	EscalationID    string    `json:"escalation_id"`
	RuleID          string    `json:"escalation_rule_id"`
	Stage           Stage     `json:"stage"`
	EscalationLevel string    `json:"escalation_level"`
	OverdueMinutes  int64     `json:"overdue_minutes"`
	Reason          string    `json:"reason"`
	RecipientUserID *string   `json:"recipient_user_id,omitempty"`
	RecipientEmail  *string   `json:"recipient_email,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
