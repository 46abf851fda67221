package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kumburgaz/dues-backend/internal/domain"
)

// UnitRepository implements domain.UnitRepository using PostgreSQL
type UnitRepository struct {
	pool *pgxpool.Pool
}

// NewUnitRepository creates a new UnitRepository
func NewUnitRepository(pool *pgxpool.Pool) *UnitRepository {
	return &UnitRepository{pool: pool}
}

// GetByID retrieves a unit by its ID
func (r *UnitRepository) GetByID(ctx context.Context, id int32) (*domain.Unit, error) {
	var u domain.Unit
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, block_id, unit_no, owner_name, active
		FROM units
		WHERE id = $1`, id).
		Scan(&u.ID, &u.BlockID, &u.UnitNo, &u.OwnerName, &u.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnitNotFound
		}
		return nil, mapError(err)
	}
	return &u, nil
}

// GetLabels resolves units together with their block names
func (r *UnitRepository) GetLabels(ctx context.Context, ids []int32) (map[int32]domain.UnitLabel, error) {
	labels := make(map[int32]domain.UnitLabel, len(ids))
	if len(ids) == 0 {
		return labels, nil
	}

	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT u.id, u.block_id, b.name, u.unit_no
		FROM units u
		JOIN blocks b ON b.id = u.block_id
		WHERE u.id = ANY($1)`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.UnitLabel
		if err := rows.Scan(&l.UnitID, &l.BlockID, &l.BlockName, &l.UnitNo); err != nil {
			return nil, err
		}
		labels[l.UnitID] = l
	}
	return labels, mapError(rows.Err())
}
