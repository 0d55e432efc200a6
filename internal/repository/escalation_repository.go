package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-timeline-service/internal/domain"
)

// EscalationRepository persists escalation records.
type EscalationRepository interface {
	// CreateWithEvent stores the escalated timeline event and the escalation record in one
	// transaction. ErrDuplicateEscalation means an unresolved record for the same
	// (case, rule) already exists and nothing was written.
	CreateWithEvent(ctx context.Context, esc *domain.Escalation, event *domain.TimelineEvent) error
	HasUnresolved(ctx context.Context, caseID, ruleID string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Escalation, error)
	ListByCase(ctx context.Context, caseID string) ([]domain.Escalation, error)
	MarkReassigned(ctx context.Context, id, reassignedToID string) error
	MarkPriorityChanged(ctx context.Context, id string, oldPriority, newPriority domain.CasePriority) error
	Resolve(ctx context.Context, id string, resolvedByID, note *string, at time.Time) (*domain.Escalation, error)
	// ResolveOpenForCase resolves unresolved escalations whose stage differs from currentStage.
	ResolveOpenForCase(ctx context.Context, caseID string, currentStage domain.Stage, note string, at time.Time) (int64, error)
}

type escalationRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationRepository builds repository.
func NewEscalationRepository(pool *pgxpool.Pool) EscalationRepository {
	return &escalationRepository{pool: pool}
}

const escalationColumns = `id, case_id, company_id, escalation_rule_id, stage, escalation_level, reason,
        overdue_minutes, notified_users, notified_emails, is_resolved, resolved_at, resolved_by_id,
        resolution_note, was_reassigned, reassigned_to_id, priority_changed, old_priority, new_priority,
        timeline_event_id, created_at, updated_at`

func (r *escalationRepository) CreateWithEvent(ctx context.Context, esc *domain.Escalation, event *domain.TimelineEvent) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = insertTimelineEvent(ctx, tx, event); err != nil {
		return err
	}
	esc.TimelineEventID = &event.ID

	const query = `
        INSERT INTO case_escalations (
            id, case_id, company_id, escalation_rule_id, stage, escalation_level, reason,
            overdue_minutes, notified_users, notified_emails, timeline_event_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING created_at, updated_at`
	err = tx.QueryRow(ctx, query,
		esc.ID,
		esc.CaseID,
		esc.CompanyID,
		esc.EscalationRuleID,
		esc.Stage,
		esc.EscalationLevel,
		esc.Reason,
		esc.OverdueMinutes,
		nonNilStrings(esc.NotifiedUsers),
		nonNilStrings(esc.NotifiedEmails),
		esc.TimelineEventID,
	).Scan(&esc.CreatedAt, &esc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateEscalation
		}
		return err
	}
	return tx.Commit(ctx)
}

func (r *escalationRepository) HasUnresolved(ctx context.Context, caseID, ruleID string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM case_escalations
            WHERE case_id=$1 AND escalation_rule_id=$2 AND NOT is_resolved)`
	var exists bool
	err := r.pool.QueryRow(ctx, query, caseID, ruleID).Scan(&exists)
	return exists, err
}

func (r *escalationRepository) GetByID(ctx context.Context, id string) (*domain.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM case_escalations WHERE id=$1`
	return scanEscalation(r.pool.QueryRow(ctx, query, id))
}

func (r *escalationRepository) ListByCase(ctx context.Context, caseID string) ([]domain.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM case_escalations WHERE case_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Escalation
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *esc)
	}
	return result, rows.Err()
}

func (r *escalationRepository) MarkReassigned(ctx context.Context, id, reassignedToID string) error {
	const query = `
        UPDATE case_escalations SET was_reassigned=TRUE, reassigned_to_id=$2, updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, id, reassignedToID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *escalationRepository) MarkPriorityChanged(ctx context.Context, id string, oldPriority, newPriority domain.CasePriority) error {
	const query = `
        UPDATE case_escalations SET priority_changed=TRUE, old_priority=$2, new_priority=$3, updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, id, int16(oldPriority), int16(newPriority))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *escalationRepository) Resolve(ctx context.Context, id string, resolvedByID, note *string, at time.Time) (*domain.Escalation, error) {
	query := `
        UPDATE case_escalations
        SET is_resolved=TRUE, resolved_at=$2, resolved_by_id=$3, resolution_note=$4, updated_at=NOW()
        WHERE id=$1 AND NOT is_resolved
        RETURNING ` + escalationColumns
	esc, err := scanEscalation(r.pool.QueryRow(ctx, query, id, at, resolvedByID, note))
	if err != nil {
		return nil, err
	}
	return esc, nil
}

func (r *escalationRepository) ResolveOpenForCase(ctx context.Context, caseID string, currentStage domain.Stage, note string, at time.Time) (int64, error) {
	const query = `
        UPDATE case_escalations
        SET is_resolved=TRUE, resolved_at=$3, resolution_note=$4, updated_at=NOW()
        WHERE case_id=$1 AND stage<>$2 AND NOT is_resolved`
	cmd, err := r.pool.Exec(ctx, query, caseID, currentStage, at, note)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanEscalation(row pgx.Row) (*domain.Escalation, error) {
	var esc domain.Escalation
	var oldPriority, newPriority *int16
	if err := row.Scan(
		&esc.ID,
		&esc.CaseID,
		&esc.CompanyID,
		&esc.EscalationRuleID,
		&esc.Stage,
		&esc.EscalationLevel,
		&esc.Reason,
		&esc.OverdueMinutes,
		&esc.NotifiedUsers,
		&esc.NotifiedEmails,
		&esc.IsResolved,
		&esc.ResolvedAt,
		&esc.ResolvedByID,
		&esc.ResolutionNote,
		&esc.WasReassigned,
		&esc.ReassignedToID,
		&esc.PriorityChanged,
		&oldPriority,
		&newPriority,
		&esc.TimelineEventID,
		&esc.CreatedAt,
		&esc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if oldPriority != nil {
		p := domain.CasePriority(*oldPriority)
		esc.OldPriority = &p
	}
	if newPriority != nil {
		p := domain.CasePriority(*newPriority)
		esc.NewPriority = &p
	}
	return &esc, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// IsDuplicateEscalation reports whether err signals an already-open escalation.
func IsDuplicateEscalation(err error) bool {
	return errors.Is(err, ErrDuplicateEscalation)
}
