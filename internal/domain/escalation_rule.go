package domain

import (
	"strconv"
	"strings"
	"time"
)

// EscalationRule configures when a stage becomes overdue and what happens when it does.
type EscalationRule struct {
	ID        string
	Name      string
	CompanyID *string
	IsGlobal  bool
	Stage     Stage
	Priority  int
	IsActive  bool

	EscalationThreshold int // minutes
	EscalationLevel     string
	UseBusinessHours    bool

	// Optional filters; empty means "any".
	BranchID       *string
	CaseTypes      []string
	CasePriorities []CasePriority

	NotifyCurrentAssignee bool
	NotifyBranchAdmin     bool
	NotifyCompanyAdmin    bool
	NotifySuperAdmin      bool
	EscalationToUserID    *string
	NotificationEmails    []string

	AutoReassign       bool
	ReassignToUserID   *string
	AutoChangePriority bool
	NewPriority        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppliesTo reports whether rule covers the case's scope and filters.
// Stage and activity are checked by callers.
func AppliesTo(rule *EscalationRule, c *Case) bool {
	if rule == nil || c == nil {
		return false
	}
	if !rule.IsGlobal {
		if rule.CompanyID == nil || *rule.CompanyID != c.CompanyID {
			return false
		}
	}
	if rule.BranchID != nil {
		if c.BranchID == nil || *c.BranchID != *rule.BranchID {
			return false
		}
	}
	if len(rule.CaseTypes) > 0 {
		matched := false
		for _, t := range rule.CaseTypes {
			if strings.EqualFold(t, c.CaseType) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(rule.CasePriorities) > 0 {
		matched := false
		for _, p := range rule.CasePriorities {
			if p == c.Priority {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// LevelOrdinal parses labels such as "level_2" or "L3" into their ordinal.
// Labels without a trailing number count as level 1.
func (r *EscalationRule) LevelOrdinal() int {
	label := strings.TrimSpace(r.EscalationLevel)
	end := len(label)
	start := end
	for start > 0 && label[start-1] >= '0' && label[start-1] <= '9' {
		start--
	}
	if start == end {
		return 1
	}
	n, err := strconv.Atoi(label[start:end])
	if err != nil || n < 0 {
		return 1
	}
	return n
}

// HasValidThreshold reports whether the rule can produce an SLA deadline.
func (r *EscalationRule) HasValidThreshold() bool {
	return r != nil && r.EscalationThreshold > 0
}
