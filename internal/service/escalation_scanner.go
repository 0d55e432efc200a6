package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/observability"
	"github.com/spec-kit/case-timeline-service/internal/persistence"
	"github.com/spec-kit/case-timeline-service/internal/repository"
)

const scannerLockKey = "escalation-scanner"

// ScanResult summarizes one sweep.
type ScanResult struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	LockedOut      bool          `json:"locked_out"`
	CasesEvaluated int           `json:"cases_evaluated"`
	RulesMatched   int           `json:"rules_matched"`
	Overdue        int           `json:"overdue"`
	Escalated      int           `json:"escalated"`
	AlreadyOpen    int           `json:"already_open"`
	Failed         int           `json:"failed"`
}

func (r *ScanResult) merge(other ScanResult) {
	r.CasesEvaluated += other.CasesEvaluated
	r.RulesMatched += other.RulesMatched
	r.Overdue += other.Overdue
	r.Escalated += other.Escalated
	r.AlreadyOpen += other.AlreadyOpen
	r.Failed += other.Failed
}

// EscalationScanner sweeps open cases for overdue stages.
type EscalationScanner struct {
	cases       repository.CaseRepository
	events      repository.TimelineEventRepository
	escalations repository.EscalationRepository
	catalog     *RuleCatalog
	executor    Escalator
	locker      persistence.Locker
	lockTTL     time.Duration
	workers     int
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// ScannerDependencies bundles collaborators.
type ScannerDependencies struct {
	CaseRepo       repository.CaseRepository
	EventRepo      repository.TimelineEventRepository
	EscalationRepo repository.EscalationRepository
	Catalog        *RuleCatalog
	Executor       Escalator
	Locker         persistence.Locker
	LockTTL        time.Duration
	Workers        int
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewEscalationScanner creates the scanner.
func NewEscalationScanner(deps ScannerDependencies) *EscalationScanner {
	s := &EscalationScanner{
		cases:       deps.CaseRepo,
		events:      deps.EventRepo,
		escalations: deps.EscalationRepo,
		catalog:     deps.Catalog,
		executor:    deps.Executor,
		locker:      deps.Locker,
		lockTTL:     deps.LockTTL,
		workers:     deps.Workers,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 10 * time.Minute
	}
	return s
}

// Scan runs one pass. Another pass holding the scanner lease makes this one a no-op with
// LockedOut set. Per-case failures are counted and logged; only setup failures are returned.
func (s *EscalationScanner) Scan(ctx context.Context) (ScanResult, error) {
	started := s.now()
	wallStart := time.Now()
	result := ScanResult{StartedAt: started.UTC()}

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, scannerLockKey, s.lockTTL)
		if err != nil {
			s.metrics.RecordScan("error", time.Since(wallStart), 0)
			return result, fmt.Errorf("acquire scanner lock: %w", err)
		}
		if !ok {
			result.LockedOut = true
			s.metrics.RecordScan("locked_out", time.Since(wallStart), 0)
			s.logger.Info("escalation scan skipped, another run holds the lease")
			return result, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, persistence.ErrLockReleased) {
				s.logger.Warn("scanner lock release failed", zap.Error(err))
			}
		}()
	}

	rules, err := s.catalog.ActiveRules(ctx)
	if err != nil {
		s.metrics.RecordScan("error", time.Since(wallStart), 0)
		return result, err
	}
	openCases, err := s.cases.ListOpen(ctx)
	if err != nil {
		s.metrics.RecordScan("error", time.Since(wallStart), 0)
		return result, fmt.Errorf("list open cases: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range openCases {
		c := openCases[i]
		g.Go(func() error {
			partial := s.evaluateCase(gctx, &c, rules, started)
			mu.Lock()
			result.merge(partial)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(wallStart)
	outcome := "ok"
	if result.Failed > 0 {
		outcome = "partial"
	}
	s.metrics.RecordScan(outcome, result.Duration, result.CasesEvaluated)
	s.logger.Info("escalation scan completed",
		zap.Int("cases_evaluated", result.CasesEvaluated),
		zap.Int("rules_matched", result.RulesMatched),
		zap.Int("overdue", result.Overdue),
		zap.Int("escalated", result.Escalated),
		zap.Int("already_open", result.AlreadyOpen),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (s *EscalationScanner) evaluateCase(ctx context.Context, c *domain.Case, rules []domain.EscalationRule, now time.Time) ScanResult {
	var result ScanResult
	result.CasesEvaluated = 1
	if c.IsClosed() {
		return result
	}

	stage := domain.StageForStatus(c.Status)
	matched := MatchingRules(rules, c, stage)
	if len(matched) == 0 {
		return result
	}
	result.RulesMatched = len(matched)

	logger := s.logger.With(zap.String("case_id", c.ID), zap.String("stage", string(stage)))

	history, err := s.events.ListByCase(ctx, c.ID)
	if err != nil {
		result.Failed++
		logger.Error("load timeline failed", zap.Error(err))
		return result
	}
	entered := StageEntryTime(history, stage, c.CreatedAt, c.CreatedAt)
	overdue := nonNegativeMinutes(now.Sub(entered))

	for i := range matched {
		rule := &matched[i]
		if !rule.HasValidThreshold() {
			s.metrics.RecordEscalationSkipped("invalid_threshold")
			continue
		}
		if overdue < int64(rule.EscalationThreshold) {
			continue
		}
		result.Overdue++

		open, err := s.escalations.HasUnresolved(ctx, c.ID, rule.ID)
		if err != nil {
			result.Failed++
			logger.Error("escalation lookup failed", zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}
		if open {
			result.AlreadyOpen++
			s.metrics.RecordEscalationSkipped("already_open")
			continue
		}

		_, created, err := s.executor.Execute(ctx, c, rule, overdue)
		switch {
		case err != nil:
			result.Failed++
			logger.Error("escalation failed", zap.String("rule_id", rule.ID), zap.Error(err))
		case created:
			result.Escalated++
		default:
			result.AlreadyOpen++
		}
	}
	return result
}
