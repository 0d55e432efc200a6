package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-timeline-service/internal/domain"
)

// EscalationRuleRepository reads escalation rule configuration.
type EscalationRuleRepository interface {
	GetByID(ctx context.Context, id string) (*domain.EscalationRule, error)
	// ListActive returns every active rule ordered priority desc, company-scoped first, id asc.
	ListActive(ctx context.Context) ([]domain.EscalationRule, error)
	// ListActiveForStage returns active rules for stage visible to companyID
	// (company-scoped or global), ordered priority desc, company-scoped first, id asc.
	ListActiveForStage(ctx context.Context, companyID string, stage domain.Stage) ([]domain.EscalationRule, error)
}

type escalationRuleRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationRuleRepository builds repository.
func NewEscalationRuleRepository(pool *pgxpool.Pool) EscalationRuleRepository {
	return &escalationRuleRepository{pool: pool}
}

const escalationRuleColumns = `id, name, company_id, is_global, stage, priority, is_active,
        escalation_threshold, escalation_level, use_business_hours,
        branch_id, case_types, case_priorities,
        notify_current_assignee, notify_branch_admin, notify_company_admin, notify_super_admin,
        escalation_to_user_id, notification_emails,
        auto_reassign, reassign_to_user_id, auto_change_priority, new_priority,
        created_at, updated_at`

func (r *escalationRuleRepository) GetByID(ctx context.Context, id string) (*domain.EscalationRule, error) {
	query := `SELECT ` + escalationRuleColumns + ` FROM escalation_rules WHERE id=$1`
	return scanEscalationRule(r.pool.QueryRow(ctx, query, id))
}

func (r *escalationRuleRepository) ListActive(ctx context.Context) ([]domain.EscalationRule, error) {
	query := `SELECT ` + escalationRuleColumns + `
        FROM escalation_rules
        WHERE is_active
        ORDER BY priority DESC, is_global ASC, id ASC`
	return r.list(ctx, query)
}

func (r *escalationRuleRepository) ListActiveForStage(ctx context.Context, companyID string, stage domain.Stage) ([]domain.EscalationRule, error) {
	query := `SELECT ` + escalationRuleColumns + `
        FROM escalation_rules
        WHERE is_active AND stage=$2 AND (is_global OR company_id=$1)
        ORDER BY priority DESC, is_global ASC, id ASC`
	return r.list(ctx, query, companyID, stage)
}

func (r *escalationRuleRepository) list(ctx context.Context, query string, args ...any) ([]domain.EscalationRule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationRule
	for rows.Next() {
		rule, err := scanEscalationRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

func scanEscalationRule(row pgx.Row) (*domain.EscalationRule, error) {
	var rule domain.EscalationRule
	var priorities []int16
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.CompanyID,
		&rule.IsGlobal,
		&rule.Stage,
		&rule.Priority,
		&rule.IsActive,
		&rule.EscalationThreshold,
		&rule.EscalationLevel,
		&rule.UseBusinessHours,
		&rule.BranchID,
		&rule.CaseTypes,
		&priorities,
		&rule.NotifyCurrentAssignee,
		&rule.NotifyBranchAdmin,
		&rule.NotifyCompanyAdmin,
		&rule.NotifySuperAdmin,
		&rule.EscalationToUserID,
		&rule.NotificationEmails,
		&rule.AutoReassign,
		&rule.ReassignToUserID,
		&rule.AutoChangePriority,
		&rule.NewPriority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	for _, p := range priorities {
		rule.CasePriorities = append(rule.CasePriorities, domain.CasePriority(p))
	}
	return &rule, nil
}
