package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/repository"
	apperrors "github.com/spec-kit/case-timeline-service/pkg/util"
)

// EscalationService exposes escalation records to operators.
type EscalationService struct {
	escalations repository.EscalationRepository
	cases       repository.CaseRepository
	scanner     *EscalationScanner
	logger      *zap.Logger
	now         func() time.Time
}

// NewEscalationService creates the service.
func NewEscalationService(escalations repository.EscalationRepository, cases repository.CaseRepository, scanner *EscalationScanner, logger *zap.Logger) *EscalationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationService{
		escalations: escalations,
		cases:       cases,
		scanner:     scanner,
		logger:      logger,
		now:         time.Now,
	}
}

// CaseForUser loads a case the user is allowed to see.
func (s *EscalationService) CaseForUser(ctx context.Context, user *domain.User, caseID string) (*domain.Case, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("case", map[string]any{"case_id": caseID})
		}
		return nil, apperrors.MapError(err)
	}
	if !user.CanAccessCase(c) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return c, nil
}

// ListForCase returns every escalation recorded for the case.
func (s *EscalationService) ListForCase(ctx context.Context, user *domain.User, caseID string) ([]domain.Escalation, error) {
	if _, err := s.CaseForUser(ctx, user, caseID); err != nil {
		return nil, err
	}
	list, err := s.escalations.ListByCase(ctx, caseID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// Resolve marks an escalation resolved so its rule may fire again for the case.
func (s *EscalationService) Resolve(ctx context.Context, user *domain.User, escalationID, note string) (*domain.Escalation, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	if !user.IsAdmin() {
		return nil, apperrors.NewForbidden("insufficient role to resolve escalations")
	}
	esc, err := s.escalations.GetByID(ctx, escalationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("escalation", map[string]any{"escalation_id": escalationID})
		}
		return nil, apperrors.MapError(err)
	}
	if _, err := s.CaseForUser(ctx, user, esc.CaseID); err != nil {
		return nil, err
	}
	if esc.IsResolved {
		return nil, apperrors.NewConflict("escalation already resolved", map[string]any{"escalation_id": escalationID})
	}

	var notePtr *string
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		notePtr = &trimmed
	}
	resolved, err := s.escalations.Resolve(ctx, escalationID, &user.ID, notePtr, s.now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewConflict("escalation already resolved", map[string]any{"escalation_id": escalationID})
		}
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("escalation resolved",
		zap.String("escalation_id", escalationID),
		zap.String("case_id", resolved.CaseID),
		zap.String("resolved_by", user.ID))
	return resolved, nil
}

// RunScan triggers one scanner pass on behalf of a super admin.
func (s *EscalationService) RunScan(ctx context.Context, user *domain.User) (ScanResult, error) {
	if user == nil {
		return ScanResult{}, apperrors.NewUnauthorized("authentication required")
	}
	if user.Role != domain.RoleSuperAdmin {
		return ScanResult{}, apperrors.NewForbidden("super admin required")
	}
	if s.scanner == nil {
		return ScanResult{}, apperrors.NewDomainError("SCANNER_DISABLED", "escalation scanner not configured", http.StatusServiceUnavailable, nil)
	}
	result, err := s.scanner.Scan(ctx)
	if err != nil {
		return result, apperrors.MapError(err)
	}
	return result, nil
}
