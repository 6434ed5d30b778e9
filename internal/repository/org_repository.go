package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// OrgRepository reads and maintains the campus/college/department tree.
type OrgRepository interface {
	// Create inserts the unit or refreshes name and activity of an existing one.
	Create(ctx context.Context, unit *domain.OrgUnit) error
	SetActive(ctx context.Context, id string, active bool) error
	GetByID(ctx context.Context, id string) (*domain.OrgUnit, error)
	List(ctx context.Context) ([]domain.OrgUnit, error)
}

type orgRepository struct {
	pool *pgxpool.Pool
}

// NewOrgRepository builds the repository.
func NewOrgRepository(pool *pgxpool.Pool) OrgRepository {
	return &orgRepository{pool: pool}
}

func (r *orgRepository) Create(ctx context.Context, unit *domain.OrgUnit) error {
	const query = `
        INSERT INTO org_units (id, kind, name, parent_id, is_active)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, is_active=EXCLUDED.is_active, updated_at=NOW()
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		unit.ID,
		unit.Kind,
		unit.Name,
		unit.ParentID,
		unit.IsActive,
	).Scan(&unit.CreatedAt, &unit.UpdatedAt)
}

func (r *orgRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE org_units SET is_active=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *orgRepository) GetByID(ctx context.Context, id string) (*domain.OrgUnit, error) {
	const query = `
        SELECT id, kind, name, parent_id, is_active, created_at, updated_at
        FROM org_units WHERE id=$1`
	var unit domain.OrgUnit
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&unit.ID,
		&unit.Kind,
		&unit.Name,
		&unit.ParentID,
		&unit.IsActive,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &unit, nil
}

func (r *orgRepository) List(ctx context.Context) ([]domain.OrgUnit, error) {
	const query = `
        SELECT id, kind, name, parent_id, is_active, created_at, updated_at
        FROM org_units ORDER BY kind, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.OrgUnit
	for rows.Next() {
		var unit domain.OrgUnit
		if err := rows.Scan(&unit.ID, &unit.Kind, &unit.Name, &unit.ParentID, &unit.IsActive, &unit.CreatedAt, &unit.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, unit)
	}
	return result, rows.Err()
}
