package dto

import (
	"time"

	"github.com/spec-kit/case-timeline-service/internal/domain"
)

// ChangeStatusRequest payload.
type ChangeStatusRequest struct {
	Status domain.CaseStatus `json:"status"`
	Note   string            `json:"note"`
}

// AssignRequest payload.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
	Reason     string `json:"reason"`
}

// ChangePriorityRequest payload. Priority is a symbolic name such as "high".
type ChangePriorityRequest struct {
	Priority string `json:"priority"`
}

// CaseResponse describes the case fields the engine manages.
type CaseResponse struct {
	ID         string            `json:"id"`
	CompanyID  string            `json:"company_id"`
	BranchID   *string           `json:"branch_id"`
	CaseType   string            `json:"case_type"`
	Status     domain.CaseStatus `json:"status"`
	Stage      domain.Stage      `json:"stage"`
	Priority   string            `json:"priority"`
	AssigneeID *string           `json:"assignee_id"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ResolvedAt *time.Time        `json:"resolved_at"`
}

// Case maps a domain case to its response shape.
func Case(c *domain.Case) CaseResponse {
	return CaseResponse{
		ID:         c.ID,
		CompanyID:  c.CompanyID,
		BranchID:   c.BranchID,
		CaseType:   c.CaseType,
		Status:     c.Status,
		Stage:      domain.StageForStatus(c.Status),
		Priority:   c.Priority.String(),
		AssigneeID: c.AssigneeID,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		ResolvedAt: c.ResolvedAt,
	}
}
