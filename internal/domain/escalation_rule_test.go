package domain

import "testing"

func TestAppliesTo(t *testing.T) {
	company := "company-a"
	other := "company-b"
	branch := "branch-a"
	otherBranch := "branch-b"
	c := &Case{CompanyID: company, BranchID: &branch, CaseType: "Fraud", Priority: CasePriorityHigh}

	tests := []struct {
		name string
		rule EscalationRule
		want bool
	}{
		{"company scoped", EscalationRule{CompanyID: &company}, true},
		{"other company", EscalationRule{CompanyID: &other}, false},
		{"no company and not global", EscalationRule{}, false},
		{"global", EscalationRule{IsGlobal: true}, true},
		{"branch match", EscalationRule{IsGlobal: true, BranchID: &branch}, true},
		{"branch mismatch", EscalationRule{IsGlobal: true, BranchID: &otherBranch}, false},
		{"case type case-insensitive", EscalationRule{IsGlobal: true, CaseTypes: []string{"fraud"}}, true},
		{"case type mismatch", EscalationRule{IsGlobal: true, CaseTypes: []string{"harassment"}}, false},
		{"priority match", EscalationRule{IsGlobal: true, CasePriorities: []CasePriority{CasePriorityHigh, CasePriorityCritical}}, true},
		{"priority mismatch", EscalationRule{IsGlobal: true, CasePriorities: []CasePriority{CasePriorityLow}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AppliesTo(&tt.rule, c); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	noBranch := &Case{CompanyID: company}
	if AppliesTo(&EscalationRule{IsGlobal: true, BranchID: &branch}, noBranch) {
		t.Errorf("branch filter must not match a case without branch")
	}
	if AppliesTo(nil, c) {
		t.Errorf("nil rule must not apply")
	}
}

func TestLevelOrdinal(t *testing.T) {
	tests := map[string]int{
		"level_1": 1,
		"level_2": 2,
		"L3":      3,
		"tier-12": 12,
		"manager": 1,
		"":        1,
	}
	for label, want := range tests {
		r := EscalationRule{EscalationLevel: label}
		if got := r.LevelOrdinal(); got != want {
			t.Errorf("%q: expected %d, got %d", label, want, got)
		}
	}
}

func TestHasValidThreshold(t *testing.T) {
	if (&EscalationRule{EscalationThreshold: 0}).HasValidThreshold() {
		t.Errorf("zero threshold must be invalid")
	}
	if (&EscalationRule{EscalationThreshold: -5}).HasValidThreshold() {
		t.Errorf("negative threshold must be invalid")
	}
	if !(&EscalationRule{EscalationThreshold: 60}).HasValidThreshold() {
		t.Errorf("positive threshold must be valid")
	}
}
