package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/config"
	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/events"
	"github.com/spec-kit/case-timeline-service/internal/observability"
	"github.com/spec-kit/case-timeline-service/internal/persistence"
	"github.com/spec-kit/case-timeline-service/internal/repository"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// mockCaseRepository implements repository.CaseRepository for testing.
type mockCaseRepository struct {
	mu    sync.Mutex
	cases map[string]*domain.Case
	// beforeUpdate runs ahead of each Update, standing in for a concurrent writer.
	beforeUpdate func()
}

func newMockCaseRepository() *mockCaseRepository {
	return &mockCaseRepository{cases: make(map[string]*domain.Case)}
}

func (m *mockCaseRepository) put(c domain.Case) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = &c
}

func (m *mockCaseRepository) get(id string) domain.Case {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.cases[id]
}

func (m *mockCaseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *mockCaseRepository) Update(ctx context.Context, c *domain.Case) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.cases[c.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if !stored.UpdatedAt.Equal(c.UpdatedAt) {
		return repository.ErrStaleCase
	}
	c.UpdatedAt = stored.UpdatedAt.Add(time.Microsecond)
	cp := *c
	m.cases[c.ID] = &cp
	return nil
}

// touch applies change to the stored case as another writer would.
func (m *mockCaseRepository) touch(id string, change func(c *domain.Case)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cases[id]
	change(c)
	c.UpdatedAt = c.UpdatedAt.Add(time.Microsecond)
}

func (m *mockCaseRepository) ListOpen(ctx context.Context) ([]domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Case
	for _, c := range m.cases {
		if !c.IsClosed() {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// mockUserRepository implements repository.UserRepository for testing.
type mockUserRepository struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	listErr error
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]*domain.User)}
}

func (m *mockUserRepository) put(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepository) List(ctx context.Context, filter repository.DirectoryFilter) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []domain.User
	for _, u := range m.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.CompanyID != nil && (u.CompanyID == nil || *u.CompanyID != *filter.CompanyID) {
			continue
		}
		if filter.BranchID != nil && (u.BranchID == nil || *u.BranchID != *filter.BranchID) {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// mockTimelineEventRepository implements repository.TimelineEventRepository for testing.
type mockTimelineEventRepository struct {
	mu        sync.Mutex
	events    []domain.TimelineEvent
	seq       int64
	createErr error
}

func newMockTimelineEventRepository() *mockTimelineEventRepository {
	return &mockTimelineEventRepository{}
}

func (m *mockTimelineEventRepository) append(event *domain.TimelineEvent) {
	m.seq++
	event.Seq = m.seq
	event.CreatedAt = event.EventAt
	m.events = append(m.events, *event)
}

func (m *mockTimelineEventRepository) Create(ctx context.Context, event *domain.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.append(event)
	return nil
}

func (m *mockTimelineEventRepository) ListByCase(ctx context.Context, caseID string) ([]domain.TimelineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.TimelineEvent
	for _, e := range m.events {
		if e.CaseID == caseID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].EventAt.Equal(result[j].EventAt) {
			return result[i].EventAt.Before(result[j].EventAt)
		}
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

func (m *mockTimelineEventRepository) escalationEvents(caseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.CaseID == caseID && e.IsEscalation {
			n++
		}
	}
	return n
}

// mockEscalationRuleRepository implements repository.EscalationRuleRepository for testing.
type mockEscalationRuleRepository struct {
	rules []domain.EscalationRule
}

func (m *mockEscalationRuleRepository) GetByID(ctx context.Context, id string) (*domain.EscalationRule, error) {
	for i := range m.rules {
		if m.rules[i].ID == id {
			r := m.rules[i]
			return &r, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockEscalationRuleRepository) ListActive(ctx context.Context) ([]domain.EscalationRule, error) {
	var result []domain.EscalationRule
	for _, r := range m.rules {
		if r.IsActive {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockEscalationRuleRepository) ListActiveForStage(ctx context.Context, companyID string, stage domain.Stage) ([]domain.EscalationRule, error) {
	var result []domain.EscalationRule
	for _, r := range m.rules {
		if !r.IsActive || r.Stage != stage {
			continue
		}
		if !r.IsGlobal && (r.CompanyID == nil || *r.CompanyID != companyID) {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

// mockEscalationRepository implements repository.EscalationRepository for testing.
// It enforces the one-unresolved-per-(case, rule) constraint like the partial unique index.
type mockEscalationRepository struct {
	mu          sync.Mutex
	escalations map[string]*domain.Escalation
	order       []string
	events      *mockTimelineEventRepository
	createErr   error
	// hideOpen makes HasUnresolved always report false, as a racing scanner would observe.
	hideOpen bool
}

func newMockEscalationRepository(events *mockTimelineEventRepository) *mockEscalationRepository {
	return &mockEscalationRepository{
		escalations: make(map[string]*domain.Escalation),
		events:      events,
	}
}

func (m *mockEscalationRepository) CreateWithEvent(ctx context.Context, esc *domain.Escalation, event *domain.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.escalations {
		if existing.CaseID == esc.CaseID && existing.EscalationRuleID == esc.EscalationRuleID && !existing.IsResolved {
			return repository.ErrDuplicateEscalation
		}
	}
	m.events.mu.Lock()
	m.events.append(event)
	m.events.mu.Unlock()

	esc.TimelineEventID = &event.ID
	esc.CreatedAt = event.EventAt
	esc.UpdatedAt = event.EventAt
	cp := *esc
	m.escalations[esc.ID] = &cp
	m.order = append(m.order, esc.ID)
	return nil
}

func (m *mockEscalationRepository) HasUnresolved(ctx context.Context, caseID, ruleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideOpen {
		return false, nil
	}
	for _, e := range m.escalations {
		if e.CaseID == caseID && e.EscalationRuleID == ruleID && !e.IsResolved {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEscalationRepository) GetByID(ctx context.Context, id string) (*domain.Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escalations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *mockEscalationRepository) ListByCase(ctx context.Context, caseID string) ([]domain.Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Escalation
	for _, id := range m.order {
		if e := m.escalations[id]; e.CaseID == caseID {
			result = append(result, *e)
		}
	}
	return result, nil
}

func (m *mockEscalationRepository) MarkReassigned(ctx context.Context, id, reassignedToID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escalations[id]
	if !ok {
		return pgx.ErrNoRows
	}
	e.WasReassigned = true
	e.ReassignedToID = &reassignedToID
	return nil
}

func (m *mockEscalationRepository) MarkPriorityChanged(ctx context.Context, id string, oldPriority, newPriority domain.CasePriority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escalations[id]
	if !ok {
		return pgx.ErrNoRows
	}
	e.PriorityChanged = true
	e.OldPriority = &oldPriority
	e.NewPriority = &newPriority
	return nil
}

func (m *mockEscalationRepository) Resolve(ctx context.Context, id string, resolvedByID, note *string, at time.Time) (*domain.Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escalations[id]
	if !ok || e.IsResolved {
		return nil, pgx.ErrNoRows
	}
	e.IsResolved = true
	e.ResolvedAt = &at
	e.ResolvedByID = resolvedByID
	e.ResolutionNote = note
	cp := *e
	return &cp, nil
}

func (m *mockEscalationRepository) ResolveOpenForCase(ctx context.Context, caseID string, currentStage domain.Stage, note string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.escalations {
		if e.CaseID == caseID && e.Stage != currentStage && !e.IsResolved {
			e.IsResolved = true
			e.ResolvedAt = &at
			noteCopy := note
			e.ResolutionNote = &noteCopy
			n++
		}
	}
	return n, nil
}

func (m *mockEscalationRepository) unresolvedFor(caseID, ruleID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.escalations {
		if e.CaseID == caseID && e.EscalationRuleID == ruleID && !e.IsResolved {
			n++
		}
	}
	return n
}

// mockPublisher records published messages and can fail selected recipients.
type mockPublisher struct {
	mu       sync.Mutex
	messages []outboundMessage
	failFor  map[string]bool
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{failFor: make(map[string]bool)}
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, _ := payload.(outboundMessage)
	if n, ok := msg.Payload.(domain.EscalationNotification); ok {
		if n.RecipientUserID != nil && m.failFor[*n.RecipientUserID] {
			return errors.New("broker unavailable")
		}
		if n.RecipientEmail != nil && m.failFor[*n.RecipientEmail] {
			return errors.New("broker unavailable")
		}
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}

// testEngine wires every service over in-memory repositories.
type testEngine struct {
	clock         *testClock
	cases         *mockCaseRepository
	users         *mockUserRepository
	events        *mockTimelineEventRepository
	rules         *mockEscalationRuleRepository
	escalations   *mockEscalationRepository
	publisher     *mockPublisher
	locker        persistence.Locker
	timeline      *TimelineService
	caseService   *CaseService
	notifications *NotificationService
	executor      *EscalationExecutor
	scanner       *EscalationScanner
	admin         *EscalationService
	metrics       *observability.Metrics
}

func newTestEngine(t *testing.T, logger *zap.Logger, rules ...domain.EscalationRule) *testEngine {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &testEngine{
		clock:     &testClock{now: t0},
		cases:     newMockCaseRepository(),
		users:     newMockUserRepository(),
		events:    newMockTimelineEventRepository(),
		rules:     &mockEscalationRuleRepository{rules: rules},
		publisher: newMockPublisher(),
		locker:    persistence.NewLocalLocker(),
		metrics:   observability.NewMetrics(),
	}
	e.escalations = newMockEscalationRepository(e.events)
	catalog := NewRuleCatalog(e.rules)
	dispatcher := events.NewInMemoryDispatcher(logger)

	e.timeline = NewTimelineService(TimelineDependencies{
		EventRepo: e.events,
		CaseRepo:  e.cases,
		Catalog:   catalog,
		Locker:    e.locker,
		LockTTL:   time.Second,
		Metrics:   e.metrics,
		Logger:    logger,
		Now:       e.clock.Now,
	})
	e.caseService = NewCaseService(CaseDependencies{
		CaseRepo:       e.cases,
		UserRepo:       e.users,
		EscalationRepo: e.escalations,
		Timeline:       e.timeline,
		Dispatcher:     dispatcher,
		Metrics:        e.metrics,
		Logger:         logger,
		Now:            e.clock.Now,
	})
	e.notifications = NewNotificationService(dispatcher, e.publisher, e.metrics, logger, config.NotificationConfig{
		RoutingKey:           "case.escalation.notify",
		AssignmentRoutingKey: "case.assignment.notify",
		EmailFrom:            "noreply@example.com",
		Workers:              4,
	})
	e.notifications.now = e.clock.Now
	e.notifications.RegisterHandlers()
	e.executor = NewEscalationExecutor(ExecutorDependencies{
		EscalationRepo: e.escalations,
		UserRepo:       e.users,
		Timeline:       e.timeline,
		Cases:          e.caseService,
		Notifier:       e.notifications,
		Dispatcher:     dispatcher,
		Metrics:        e.metrics,
		Logger:         logger,
		Now:            e.clock.Now,
	})
	e.scanner = NewEscalationScanner(ScannerDependencies{
		CaseRepo:       e.cases,
		EventRepo:      e.events,
		EscalationRepo: e.escalations,
		Catalog:        catalog,
		Executor:       e.executor,
		Locker:         e.locker,
		LockTTL:        time.Minute,
		Workers:        4,
		Metrics:        e.metrics,
		Logger:         logger,
		Now:            e.clock.Now,
	})
	e.admin = NewEscalationService(e.escalations, e.cases, e.scanner, logger)
	e.admin.now = e.clock.Now
	return e
}

func strPtr(s string) *string { return &s }

const (
	companyA = "company-a"
	branchA  = "branch-a"
)

func newCase(id string, status domain.CaseStatus, createdAt time.Time) domain.Case {
	return domain.Case{
		ID:        id,
		CompanyID: companyA,
		BranchID:  strPtr(branchA),
		CaseType:  "fraud",
		Status:    status,
		Priority:  domain.CasePriorityMedium,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func investigationRule(id string, threshold int) domain.EscalationRule {
	return domain.EscalationRule{
		ID:                    id,
		Name:                  "investigation overdue",
		CompanyID:             strPtr(companyA),
		Stage:                 domain.StageInvestigation,
		Priority:              10,
		IsActive:              true,
		EscalationThreshold:   threshold,
		EscalationLevel:       "level_1",
		NotifyCurrentAssignee: true,
	}
}
