package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-timeline-service/internal/domain"
)

// CaseRepository is the engine's view of case persistence.
type CaseRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	// Update writes status, priority, assignee and resolved_at only if the stored row still
	// carries c.UpdatedAt, then advances c.UpdatedAt. ErrStaleCase means another write won.
	Update(ctx context.Context, c *domain.Case) error
	// ListOpen returns every case whose status is outside the closed stage.
	ListOpen(ctx context.Context) ([]domain.Case, error)
}

type caseRepository struct {
	pool *pgxpool.Pool
}

// NewCaseRepository instantiates repository.
func NewCaseRepository(pool *pgxpool.Pool) CaseRepository {
	return &caseRepository{pool: pool}
}

const caseColumns = `id, company_id, branch_id, case_type, status, priority, assignee_id, created_at, updated_at, resolved_at`

func (r *caseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id=$1`
	c, err := scanCase(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *caseRepository) Update(ctx context.Context, c *domain.Case) error {
	const query = `
        UPDATE cases SET status=$1, priority=$2, assignee_id=$3, resolved_at=$4,
            updated_at=GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')
        WHERE id=$5 AND updated_at=$6
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		c.Status,
		int16(c.Priority),
		c.AssigneeID,
		c.ResolvedAt,
		c.ID,
		c.UpdatedAt,
	).Scan(&c.UpdatedAt)
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id=$1)`, c.ID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrStaleCase
	}
	return pgx.ErrNoRows
}

func (r *caseRepository) ListOpen(ctx context.Context) ([]domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE NOT (status = ANY($1)) ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, closedStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func closedStatuses() []string {
	var out []string
	for _, status := range domain.StatusesInStage(domain.StageClosed) {
		out = append(out, string(status))
	}
	return out
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	var c domain.Case
	var priority int16
	if err := row.Scan(
		&c.ID,
		&c.CompanyID,
		&c.BranchID,
		&c.CaseType,
		&c.Status,
		&priority,
		&c.AssigneeID,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.ResolvedAt,
	); err != nil {
		return nil, err
	}
	c.Priority = domain.CasePriority(priority)
	return &c, nil
}
