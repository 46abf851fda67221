package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kumburgaz/dues-backend/internal/domain"
)

// DuesTypeRepository implements domain.DuesTypeRepository using PostgreSQL
type DuesTypeRepository struct {
	pool *pgxpool.Pool
}

// NewDuesTypeRepository creates a new DuesTypeRepository
func NewDuesTypeRepository(pool *pgxpool.Pool) *DuesTypeRepository {
	return &DuesTypeRepository{pool: pool}
}

func scanDuesType(row pgx.Row) (*domain.DuesType, error) {
	var dt domain.DuesType
	var amount pgtype.Numeric
	if err := row.Scan(&dt.ID, &dt.Name, &amount, &dt.Active); err != nil {
		return nil, err
	}
	dt.Amount = pgNumericToDecimal(amount)
	return &dt, nil
}

// GetByID retrieves a dues type by its ID
func (r *DuesTypeRepository) GetByID(ctx context.Context, id int32) (*domain.DuesType, error) {
	dt, err := scanDuesType(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, amount, active
		FROM dues_types
		WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDuesTypeNotFound
		}
		return nil, mapError(err)
	}
	return dt, nil
}

// GetByIDs retrieves dues types by ID, skipping unknown ones
func (r *DuesTypeRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]*domain.DuesType, error) {
	result := make(map[int32]*domain.DuesType, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, name, amount, active
		FROM dues_types
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		dt, err := scanDuesType(rows)
		if err != nil {
			return nil, err
		}
		result[dt.ID] = dt
	}
	return result, mapError(rows.Err())
}
