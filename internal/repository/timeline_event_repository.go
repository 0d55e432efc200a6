package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-timeline-service/internal/domain"
)

// TimelineEventRepository is the append-only store of case lifecycle events.
type TimelineEventRepository interface {
	Create(ctx context.Context, event *domain.TimelineEvent) error
	// ListByCase returns events ordered by event time, then insertion order.
	ListByCase(ctx context.Context, caseID string) ([]domain.TimelineEvent, error)
}

type timelineEventRepository struct {
	pool *pgxpool.Pool
}

// NewTimelineEventRepository builds repository.
func NewTimelineEventRepository(pool *pgxpool.Pool) TimelineEventRepository {
	return &timelineEventRepository{pool: pool}
}

func (r *timelineEventRepository) Create(ctx context.Context, event *domain.TimelineEvent) error {
	return insertTimelineEvent(ctx, r.pool, event)
}

const timelineEventColumns = `id, seq, case_id, company_id, branch_id, event_type, stage, previous_stage,
        actor_id, actor_type, assigned_to_id, escalated_to_id, event_at,
        duration_from_previous, duration_in_stage, total_case_duration,
        is_escalation, escalation_level, escalation_reason, escalation_rule_id,
        sla_breached, sla_deadline, sla_remaining_minutes,
        is_internal, is_visible_to_reporter, title, description, metadata, changes, created_at`

func insertTimelineEvent(ctx context.Context, q querier, event *domain.TimelineEvent) error {
	const query = `
        INSERT INTO case_timeline_events (
            id, case_id, company_id, branch_id, event_type, stage, previous_stage,
            actor_id, actor_type, assigned_to_id, escalated_to_id, event_at,
            duration_from_previous, duration_in_stage, total_case_duration,
            is_escalation, escalation_level, escalation_reason, escalation_rule_id,
            sla_breached, sla_deadline, sla_remaining_minutes,
            is_internal, is_visible_to_reporter, title, description, metadata, changes)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
        RETURNING seq, created_at`

	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	changes := event.Changes
	if changes == nil {
		changes = map[string]domain.FieldChange{}
	}

	return q.QueryRow(ctx, query,
		event.ID,
		event.CaseID,
		event.CompanyID,
		event.BranchID,
		event.EventType,
		event.Stage,
		event.PreviousStage,
		event.ActorID,
		event.ActorType,
		event.AssignedToID,
		event.EscalatedToID,
		event.EventAt,
		event.DurationFromPrevious,
		event.DurationInStage,
		event.TotalCaseDuration,
		event.IsEscalation,
		event.EscalationLevel,
		event.EscalationReason,
		event.EscalationRuleID,
		event.SLABreached,
		event.SLADeadline,
		event.SLARemainingMinutes,
		event.IsInternal,
		event.IsVisibleToReporter,
		event.Title,
		event.Description,
		metadata,
		changes,
	).Scan(&event.Seq, &event.CreatedAt)
}

func (r *timelineEventRepository) ListByCase(ctx context.Context, caseID string) ([]domain.TimelineEvent, error) {
	query := `SELECT ` + timelineEventColumns + `
        FROM case_timeline_events WHERE case_id=$1 ORDER BY event_at ASC, seq ASC`
	rows, err := r.pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TimelineEvent
	for rows.Next() {
		event, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	return result, rows.Err()
}

func scanTimelineEvent(row pgx.Row) (*domain.TimelineEvent, error) {
	var e domain.TimelineEvent
	if err := row.Scan(
		&e.ID,
		&e.Seq,
		&e.CaseID,
		&e.CompanyID,
		&e.BranchID,
		&e.EventType,
		&e.Stage,
		&e.PreviousStage,
		&e.ActorID,
		&e.ActorType,
		&e.AssignedToID,
		&e.EscalatedToID,
		&e.EventAt,
		&e.DurationFromPrevious,
		&e.DurationInStage,
		&e.TotalCaseDuration,
		&e.IsEscalation,
		&e.EscalationLevel,
		&e.EscalationReason,
		&e.EscalationRuleID,
		&e.SLABreached,
		&e.SLADeadline,
		&e.SLARemainingMinutes,
		&e.IsInternal,
		&e.IsVisibleToReporter,
		&e.Title,
		&e.Description,
		&e.Metadata,
		&e.Changes,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
