package domain

import (
	"strings"
	"time"
)

// CaseStatus enumerates lifecycle states owned by the case collaborator.
type CaseStatus string

const (
	CaseStatusNew              CaseStatus = "new"
	CaseStatusOpen             CaseStatus = "open"
	CaseStatusSubmitted        CaseStatus = "submitted"
	CaseStatusPending          CaseStatus = "pending"
	CaseStatusUnderReview      CaseStatus = "under_review"
	CaseStatusReopened         CaseStatus = "reopened"
	CaseStatusAssigned         CaseStatus = "assigned"
	CaseStatusInProgress       CaseStatus = "in_progress"
	CaseStatusInvestigating    CaseStatus = "investigating"
	CaseStatusAwaitingResponse CaseStatus = "awaiting_response"
	CaseStatusOnHold           CaseStatus = "on_hold"
	CaseStatusResolved         CaseStatus = "resolved"
	CaseStatusClosed           CaseStatus = "closed"
	CaseStatusRejected         CaseStatus = "rejected"
	CaseStatusArchived         CaseStatus = "archived"
)

// CasePriority is the stored ordinal of a case priority.
type CasePriority int

const (
	CasePriorityLow      CasePriority = 1
	CasePriorityMedium   CasePriority = 2
	CasePriorityHigh     CasePriority = 3
	CasePriorityCritical CasePriority = 4
)

var priorityNames = map[string]CasePriority{
	"low":      CasePriorityLow,
	"medium":   CasePriorityMedium,
	"normal":   CasePriorityMedium,
	"high":     CasePriorityHigh,
	"critical": CasePriorityCritical,
	"urgent":   CasePriorityCritical,
}

// ParsePriority maps a symbolic priority name to its stored ordinal.
func ParsePriority(name string) (CasePriority, bool) {
	p, ok := priorityNames[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// String returns the canonical symbolic name.
func (p CasePriority) String() string {
	switch p {
	case CasePriorityLow:
		return "low"
	case CasePriorityMedium:
		return "medium"
	case CasePriorityHigh:
		return "high"
	case CasePriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Case is the slice of the case aggregate the engine reads and, for escalations, mutates.
type Case struct {
	ID         string
	CompanyID  string
	BranchID   *string
	CaseType   string
	Status     CaseStatus
	Priority   CasePriority
	AssigneeID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// IsClosed reports whether the case sits in the terminal stage.
func (c *Case) IsClosed() bool {
	return StageForStatus(c.Status) == StageClosed
}
