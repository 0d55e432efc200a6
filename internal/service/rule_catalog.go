package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/repository"
)

// SLASnapshot is the deadline state of a stage against one rule at a point in time.
type SLASnapshot struct {
	RuleID           string
	Deadline         time.Time
	RemainingMinutes int64
	Breached         bool
}

// RuleCatalog gives read access to escalation rules.
type RuleCatalog struct {
	rules repository.EscalationRuleRepository
}

// NewRuleCatalog wraps the rule repository.
func NewRuleCatalog(rules repository.EscalationRuleRepository) *RuleCatalog {
	return &RuleCatalog{rules: rules}
}

// ApplicableRule returns the rule governing c while in stage, or nil when none applies.
func (rc *RuleCatalog) ApplicableRule(ctx context.Context, c *domain.Case, stage domain.Stage) (*domain.EscalationRule, error) {
	rules, err := rc.rules.ListActiveForStage(ctx, c.CompanyID, stage)
	if err != nil {
		return nil, fmt.Errorf("list rules for stage %s: %w", stage, err)
	}
	return SelectRule(rules, c, stage), nil
}

// ActiveRules returns every active rule in precedence order.
func (rc *RuleCatalog) ActiveRules(ctx context.Context) ([]domain.EscalationRule, error) {
	rules, err := rc.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	SortRules(rules)
	return rules, nil
}

// SortRules orders rules by priority desc, company-scoped before global, then id asc.
func SortRules(rules []domain.EscalationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.IsGlobal != b.IsGlobal {
			return !a.IsGlobal
		}
		return a.ID < b.ID
	})
}

// MatchingRules returns the active rules for stage that apply to c, in precedence order.
func MatchingRules(rules []domain.EscalationRule, c *domain.Case, stage domain.Stage) []domain.EscalationRule {
	var matched []domain.EscalationRule
	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive || rule.Stage != stage {
			continue
		}
		if !domain.AppliesTo(rule, c) {
			continue
		}
		matched = append(matched, *rule)
	}
	SortRules(matched)
	return matched
}

// SelectRule picks the single highest-precedence rule for (c, stage).
func SelectRule(rules []domain.EscalationRule, c *domain.Case, stage domain.Stage) *domain.EscalationRule {
	matched := MatchingRules(rules, c, stage)
	if len(matched) == 0 {
		return nil
	}
	return &matched[0]
}

// ComputeSLA returns nil when rule is missing or its threshold is unusable.
// Remaining minutes are deadline minus at; negative means breached.
func ComputeSLA(rule *domain.EscalationRule, stageStart, at time.Time) *SLASnapshot {
	if !rule.HasValidThreshold() {
		return nil
	}
	deadline := stageStart.Add(time.Duration(rule.EscalationThreshold) * time.Minute)
	remaining := wholeMinutes(deadline.Sub(at))
	return &SLASnapshot{
		RuleID:           rule.ID,
		Deadline:         deadline,
		RemainingMinutes: remaining,
		Breached:         remaining < 0,
	}
}
