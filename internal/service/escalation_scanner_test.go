package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/case-timeline-service/internal/domain"
)

func TestScanFiresOverdueCase(t *testing.T) {
	e := newTestEngine(t, nil, investigationRule("rule-inv", 60))
	ctx := context.Background()
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))

	e.clock.Set(t0.Add(61 * time.Minute))
	result, err := e.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Escalated != 1 || result.Failed != 0 {
		t.Fatalf("expected one escalation, got %+v", result)
	}
	if !result.StartedAt.Equal(t0.Add(61*time.Minute)) || result.Duration < 0 || result.Duration > time.Minute {
		t.Errorf("expected scan timing from the wall clock, started=%v duration=%v", result.StartedAt, result.Duration)
	}

	list, _ := e.escalations.ListByCase(ctx, "case-1")
	if len(list) != 1 {
		t.Fatalf("expected 1 escalation record, got %d", len(list))
	}
	esc := list[0]
	if esc.OverdueMinutes != 61 || esc.IsResolved || esc.Stage != domain.StageInvestigation {
		t.Errorf("unexpected escalation %+v", esc)
	}
	if esc.TimelineEventID == nil {
		t.Fatalf("expected escalation linked to its timeline event")
	}

	timeline, _ := e.timeline.GetTimeline(ctx, "case-1", true)
	if len(timeline) != 1 {
		t.Fatalf("expected 1 timeline event, got %d", len(timeline))
	}
	event := timeline[0]
	if event.ID != *esc.TimelineEventID || !event.IsEscalation || !event.IsInternal || event.IsVisibleToReporter {
		t.Errorf("unexpected escalation event %+v", event)
	}
	if event.EscalationLevel != 1 || event.EscalationRuleID == nil || *event.EscalationRuleID != "rule-inv" {
		t.Errorf("unexpected escalation fields level=%d rule=%v", event.EscalationLevel, event.EscalationRuleID)
	}
	if event.DurationInStage != 61 || event.TotalCaseDuration != 61 {
		t.Errorf("unexpected durations in_stage=%d total=%d", event.DurationInStage, event.TotalCaseDuration)
	}
	if !event.SLABreached {
		t.Errorf("expected escalation event to carry a breached SLA snapshot")
	}
}

func TestScanIsIdempotentAcrossRuns(t *testing.T) {
	e := newTestEngine(t, nil, investigationRule("rule-inv", 60))
	ctx := context.Background()
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))

	for _, minutes := range []int{61, 122, 183, 600} {
		e.clock.Set(t0.Add(time.Duration(minutes) * time.Minute))
		if _, err := e.scanner.Scan(ctx); err != nil {
			t.Fatalf("Scan at +%dm failed: %v", minutes, err)
		}
	}

	if n := e.escalations.unresolvedFor("case-1", "rule-inv"); n != 1 {
		t.Errorf("expected exactly 1 unresolved escalation, got %d", n)
	}
	if n := e.events.escalationEvents("case-1"); n != 1 {
		t.Errorf("expected exactly 1 escalation timeline event, got %d", n)
	}
}

func TestScanEscalationLadderMeasuresFromStageEntry(t *testing.T) {
	level2 := investigationRule("rule-inv-2", 120)
	level2.EscalationLevel = "level_2"
	level2.Priority = 5
	e := newTestEngine(t, nil, investigationRule("rule-inv", 60), level2)
	ctx := context.Background()
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))

	e.clock.Set(t0.Add(61 * time.Minute))
	first, err := e.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if first.Escalated != 1 {
		t.Fatalf("expected level 1 to fire at +61m, got %+v", first)
	}

	e.clock.Set(t0.Add(125 * time.Minute))
	second, err := e.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if second.Escalated != 1 || second.AlreadyOpen != 1 {
		t.Fatalf("expected level 2 to fire at +125m, got %+v", second)
	}

	list, _ := e.escalations.ListByCase(ctx, "case-1")
	overdue := map[string]int64{}
	for _, esc := range list {
		overdue[esc.EscalationRuleID] = esc.OverdueMinutes
	}
	if overdue["rule-inv"] != 61 || overdue["rule-inv-2"] != 125 {
		t.Errorf("expected overdue minutes measured from case creation, got %v", overdue)
	}

	summary, err := e.timeline.GetDurationSummary(ctx, "case-1")
	if err != nil {
		t.Fatalf("GetDurationSummary failed: %v", err)
	}
	if summary.CurrentStageMinutes != 125 {
		t.Errorf("expected 125 minutes in current stage, got %d", summary.CurrentStageMinutes)
	}
	if len(summary.Stages) != 1 || summary.Stages[0].Minutes != 125 {
		t.Errorf("expected a single 125 minute investigation entry, got %+v", summary.Stages)
	}
}

func TestScanUniquenessGuardsRacingScanners(t *testing.T) {
	e := newTestEngine(t, nil, investigationRule("rule-inv", 60))
	ctx := context.Background()
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))
	e.escalations.hideOpen = true

	e.clock.Set(t0.Add(61 * time.Minute))
	first, err := e.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	second, err := e.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if first.Escalated != 1 || second.Escalated != 0 || second.AlreadyOpen != 1 || second.Failed != 0 {
		t.Errorf("expected duplicate attempt to be absorbed, got first=%+v second=%+v", first, second)
	}
	if n := e.events.escalationEvents("case-1"); n != 1 {
		t.Errorf("expected losing attempt to leave no timeline event, got %d", n)
	}
}

func TestScanUsesStageEntryFromTimeline(t *testing.T) {
	e := newTestEngine(t, nil, investigationRule("rule-inv", 60))
	ctx := context.Background()
	e.cases.put(newCase("case-1", domain.CaseStatusOpen, t0))

	e.clock.Set(t0.Add(30 * time.Minute))
	if _, err := e.caseService.ChangeStatus(ctx, domain.UserActor("user-1"), "case-1", domain.CaseStatusInProgress, ""); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	e.clock.Set(t0.Add(80 * time.Minute))
	result, _ := e.scanner.Scan(ctx)
	if result.Escalated != 0 || result.RulesMatched != 1 {
		t.Fatalf("expected no escalation 50 minutes into the stage, got %+v", result)
	}

	e.clock.Set(t0.Add(91 * time.Minute))
	result, _ = e.scanner.Scan(ctx)
	if result.Escalated != 1 {
		t.Fatalf("expected escalation 61 minutes into the stage, got %+v", result)
	}
	list, _ := e.escalations.ListByCase(ctx, "case-1")
	if list[0].OverdueMinutes != 61 {
		t.Errorf("expected 61 overdue minutes, got %d", list[0].OverdueMinutes)
	}
}

func TestScanAutoReassign(t *testing.T) {
	rule := investigationRule("rule-inv", 60)
	rule.AutoReassign = true
	rule.ReassignToUserID = strPtr("lead-1")
	e := newTestEngine(t, nil, rule)
	ctx := context.Background()

	c := newCase("case-1", domain.CaseStatusInProgress, t0)
	c.AssigneeID = strPtr("inv-1")
	e.cases.put(c)
	e.users.put(domain.User{ID: "inv-1", Role: domain.RoleInvestigator, CompanyID: strPtr(companyA), Active: true})
	e.users.put(domain.User{ID: "lead-1", Role: domain.RoleInvestigator, CompanyID: strPtr(companyA), Active: true})

	e.clock.Set(t0.Add(61 * time.Minute))
	if _, err := e.scanner.Scan(ctx); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	list, _ := e.escalations.ListByCase(ctx, "case-1")
	if len(list) != 1 {
		t.Fatalf("expected 1 escalation, got %d", len(list))
	}
	if !list[0].WasReassigned || list[0].ReassignedToID == nil || *list[0].ReassignedToID != "lead-1" {
		t.Errorf("expected escalation to record reassignment, got %+v", list[0])
	}
	updated := e.cases.get("case-1")
	if updated.AssigneeID == nil || *updated.AssigneeID != "lead-1" {
		t.Errorf("expected case assignee lead-1, got %v", updated.AssigneeID)
	}

	timeline, _ := e.timeline.GetTimeline(ctx, "case-1", true)
	if len(timeline) != 2 || timeline[1].EventType != domain.EventReassigned {
		t.Fatalf("expected escalation followed by reassigned event, got %+v", timeline)
	}
	if timeline[1].ActorID != nil || timeline[1].ActorType != domain.ActorSystem {
		t.Errorf("expected system actor on reassignment")
	}
	if e.publisher.count("assignment") != 1 {
		t.Errorf("expected new assignee to be notified")
	}
}

func TestScanSkipsInactiveReassignTarget(t *testing.T) {
	rule := investigationRule("rule-inv", 60)
	rule.AutoReassign = true
	rule.ReassignToUserID = strPtr("gone-1")
	e := newTestEngine(t, nil, rule)
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))
	e.users.put(domain.User{ID: "gone-1", Role: domain.RoleInvestigator, Active: false})

	e.clock.Set(t0.Add(61 * time.Minute))
	result, _ := e.scanner.Scan(context.Background())
	if result.Escalated != 1 {
		t.Fatalf("expected escalation despite invalid target, got %+v", result)
	}
	list, _ := e.escalations.ListByCase(context.Background(), "case-1")
	if list[0].WasReassigned {
		t.Errorf("expected no reassignment to inactive user")
	}
	if got := e.cases.get("case-1"); got.AssigneeID != nil {
		t.Errorf("expected assignee untouched, got %v", *got.AssigneeID)
	}
}

func TestScanAutoChangePriority(t *testing.T) {
	rule := investigationRule("rule-inv", 60)
	rule.AutoChangePriority = true
	rule.NewPriority = "Urgent"
	e := newTestEngine(t, nil, rule)
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))

	e.clock.Set(t0.Add(61 * time.Minute))
	if _, err := e.scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	list, _ := e.escalations.ListByCase(context.Background(), "case-1")
	esc := list[0]
	if !esc.PriorityChanged || *esc.OldPriority != domain.CasePriorityMedium || *esc.NewPriority != domain.CasePriorityCritical {
		t.Errorf("unexpected priority outcome %+v", esc)
	}
	if got := e.cases.get("case-1"); got.Priority != domain.CasePriorityCritical {
		t.Errorf("expected case priority critical, got %v", got.Priority)
	}
}

func TestScanResolvesRecipients(t *testing.T) {
	rule := investigationRule("rule-inv", 60)
	rule.NotifyBranchAdmin = true
	rule.NotifyCompanyAdmin = true
	rule.NotifySuperAdmin = true
	rule.EscalationToUserID = strPtr("inv-1")
	rule.NotificationEmails = []string{"Ops@Example.com", "ops@example.COM", " ", "audit@example.com"}
	e := newTestEngine(t, nil, rule)

	c := newCase("case-1", domain.CaseStatusInProgress, t0)
	c.AssigneeID = strPtr("inv-1")
	e.cases.put(c)
	e.users.put(domain.User{ID: "inv-1", Role: domain.RoleInvestigator, CompanyID: strPtr(companyA), Active: true})
	e.users.put(domain.User{ID: "ba-1", Role: domain.RoleBranchAdmin, CompanyID: strPtr(companyA), BranchID: strPtr(branchA), Active: true})
	e.users.put(domain.User{ID: "ba-2", Role: domain.RoleBranchAdmin, CompanyID: strPtr(companyA), BranchID: strPtr("branch-b"), Active: true})
	e.users.put(domain.User{ID: "ca-1", Role: domain.RoleCompanyAdmin, CompanyID: strPtr(companyA), Active: true})
	e.users.put(domain.User{ID: "ca-2", Role: domain.RoleCompanyAdmin, CompanyID: strPtr(companyA), Active: false})
	e.users.put(domain.User{ID: "ca-3", Role: domain.RoleCompanyAdmin, CompanyID: strPtr("company-b"), Active: true})
	e.users.put(domain.User{ID: "sa-1", Role: domain.RoleSuperAdmin, Active: true})

	e.clock.Set(t0.Add(61 * time.Minute))
	if _, err := e.scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	list, _ := e.escalations.ListByCase(context.Background(), "case-1")
	esc := list[0]
	wantUsers := []string{"inv-1", "ba-1", "ca-1", "sa-1"}
	if len(esc.NotifiedUsers) != len(wantUsers) {
		t.Fatalf("expected users %v, got %v", wantUsers, esc.NotifiedUsers)
	}
	for i, id := range wantUsers {
		if esc.NotifiedUsers[i] != id {
			t.Errorf("user %d: expected %s, got %s", i, id, esc.NotifiedUsers[i])
		}
	}
	if len(esc.NotifiedEmails) != 2 || esc.NotifiedEmails[0] != "Ops@Example.com" || esc.NotifiedEmails[1] != "audit@example.com" {
		t.Errorf("unexpected emails %v", esc.NotifiedEmails)
	}
	if got := e.publisher.count("escalation"); got != 6 {
		t.Errorf("expected 6 escalation notifications, got %d", got)
	}
}

func TestScanNotificationFailureDoesNotAbort(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rule := investigationRule("rule-inv", 60)
	rule.NotificationEmails = []string{"bounce@example.com", "ok@example.com"}
	e := newTestEngine(t, zap.New(core), rule)

	c := newCase("case-1", domain.CaseStatusInProgress, t0)
	c.AssigneeID = strPtr("inv-1")
	e.cases.put(c)
	e.publisher.failFor["bounce@example.com"] = true

	e.clock.Set(t0.Add(61 * time.Minute))
	result, err := e.scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Escalated != 1 || result.Failed != 0 {
		t.Fatalf("expected escalation to succeed, got %+v", result)
	}
	if got := e.publisher.count("escalation"); got != 2 {
		t.Errorf("expected the two healthy recipients notified, got %d", got)
	}
	if logs.FilterMessage("escalation notification failed").Len() != 1 {
		t.Errorf("expected one logged notification failure")
	}
}

func TestScanDecisionFailureIsRetriedNextRun(t *testing.T) {
	e := newTestEngine(t, nil, investigationRule("rule-inv", 60))
	ctx := context.Background()
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))
	e.escalations.createErr = errors.New("connection reset")

	e.clock.Set(t0.Add(61 * time.Minute))
	result, err := e.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan should not fail on a per-case error: %v", err)
	}
	if result.Failed != 1 || result.Escalated != 0 {
		t.Fatalf("expected one failed attempt, got %+v", result)
	}
	if n := e.events.escalationEvents("case-1"); n != 0 {
		t.Fatalf("expected no escalation event after failed decision, got %d", n)
	}

	e.escalations.createErr = nil
	e.clock.Set(t0.Add(70 * time.Minute))
	result, _ = e.scanner.Scan(ctx)
	if result.Escalated != 1 {
		t.Errorf("expected retry to escalate, got %+v", result)
	}
}

func TestScanDirectoryFailureAbortsAttempt(t *testing.T) {
	rule := investigationRule("rule-inv", 60)
	rule.NotifyCompanyAdmin = true
	e := newTestEngine(t, nil, rule)
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))
	e.users.listErr = errors.New("directory down")

	e.clock.Set(t0.Add(61 * time.Minute))
	result, _ := e.scanner.Scan(context.Background())
	if result.Failed != 1 || e.escalations.unresolvedFor("case-1", "rule-inv") != 0 {
		t.Errorf("expected aborted attempt with nothing recorded, got %+v", result)
	}
}

func TestScanLockedOut(t *testing.T) {
	e := newTestEngine(t, nil, investigationRule("rule-inv", 60))
	ctx := context.Background()
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))

	unlock, ok, err := e.locker.TryLock(ctx, scannerLockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected to take scanner lease, ok=%v err=%v", ok, err)
	}
	e.clock.Set(t0.Add(61 * time.Minute))

	result, err := e.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !result.LockedOut || result.CasesEvaluated != 0 {
		t.Errorf("expected locked out run, got %+v", result)
	}
	if n := e.escalations.unresolvedFor("case-1", "rule-inv"); n != 0 {
		t.Errorf("expected no escalation while locked out, got %d", n)
	}

	_ = unlock(ctx)
	result, _ = e.scanner.Scan(ctx)
	if result.LockedOut || result.Escalated != 1 {
		t.Errorf("expected escalation once lease released, got %+v", result)
	}
}

func TestScanIgnoresClosedAndUnmatchedCases(t *testing.T) {
	rule := investigationRule("rule-inv", 60)
	rule.BranchID = strPtr("branch-z")
	e := newTestEngine(t, nil, rule, investigationRule("rule-closed", 1))

	closed := newCase("case-closed", domain.CaseStatusClosed, t0)
	resolved := t0.Add(time.Minute)
	closed.ResolvedAt = &resolved
	e.cases.put(closed)
	other := newCase("case-other", domain.CaseStatusInProgress, t0)
	other.CompanyID = "company-b"
	e.cases.put(other)

	e.clock.Set(t0.Add(24 * time.Hour))
	result, err := e.scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.CasesEvaluated != 1 || result.RulesMatched != 0 || result.Escalated != 0 {
		t.Errorf("expected only the open case evaluated and nothing matched, got %+v", result)
	}
}

func TestStageChangeResolvesEscalationAndAllowsRefire(t *testing.T) {
	e := newTestEngine(t, nil, investigationRule("rule-inv", 60))
	ctx := context.Background()
	e.cases.put(newCase("case-1", domain.CaseStatusInProgress, t0))

	e.clock.Set(t0.Add(61 * time.Minute))
	if _, err := e.scanner.Scan(ctx); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	e.clock.Set(t0.Add(90 * time.Minute))
	if _, err := e.caseService.ChangeStatus(ctx, domain.UserActor("inv-1"), "case-1", domain.CaseStatusPending, "needs triage"); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	if n := e.escalations.unresolvedFor("case-1", "rule-inv"); n != 0 {
		t.Fatalf("expected escalation resolved on stage change, got %d open", n)
	}

	e.clock.Set(t0.Add(100 * time.Minute))
	if _, err := e.caseService.ChangeStatus(ctx, domain.UserActor("inv-1"), "case-1", domain.CaseStatusInvestigating, ""); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	e.clock.Set(t0.Add(150 * time.Minute))
	result, _ := e.scanner.Scan(ctx)
	if result.Escalated != 0 {
		t.Fatalf("expected stage clock reset on re-entry, got %+v", result)
	}

	e.clock.Set(t0.Add(161 * time.Minute))
	result, _ = e.scanner.Scan(ctx)
	if result.Escalated != 1 {
		t.Fatalf("expected re-fire after re-entry, got %+v", result)
	}
	list, _ := e.escalations.ListByCase(ctx, "case-1")
	if len(list) != 2 || list[1].OverdueMinutes != 61 {
		t.Errorf("expected second escalation with 61 overdue minutes, got %+v", list)
	}
}
