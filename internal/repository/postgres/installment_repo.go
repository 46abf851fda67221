package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kumburgaz/dues-backend/internal/domain"
)

// InstallmentRepository implements domain.InstallmentRepository using PostgreSQL
type InstallmentRepository struct {
	pool *pgxpool.Pool
}

// NewInstallmentRepository creates a new InstallmentRepository
func NewInstallmentRepository(pool *pgxpool.Pool) *InstallmentRepository {
	return &InstallmentRepository{pool: pool}
}

const installmentColumns = `id, billing_group_id, unit_id, period, due_date, amount, remaining_amount, status`

func scanInstallment(row pgx.Row) (*domain.DuesInstallment, error) {
	var inst domain.DuesInstallment
	var amount, remaining pgtype.Numeric
	var status string
	err := row.Scan(&inst.ID, &inst.BillingGroupID, &inst.UnitID, &inst.Period, &inst.DueDate, &amount, &remaining, &status)
	if err != nil {
		return nil, err
	}
	inst.Amount = pgNumericToDecimal(amount)
	inst.RemainingAmount = pgNumericToDecimal(remaining)
	inst.Status = domain.InstallmentStatus(status)
	return &inst, nil
}

func (r *InstallmentRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.DuesInstallment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := []*domain.DuesInstallment{}
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, mapError(rows.Err())
}

// GetByIDs retrieves installments by ID, skipping unknown ones
func (r *InstallmentRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]*domain.DuesInstallment, error) {
	result := make(map[int32]*domain.DuesInstallment, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	installments, err := r.query(ctx, `SELECT `+installmentColumns+` FROM dues_installments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, inst := range installments {
		result[inst.ID] = inst
	}
	return result, nil
}

// Create inserts an installment. The unique slot index turns a concurrent duplicate into
// ErrDuplicateInstallment without aborting the surrounding transaction.
func (r *InstallmentRepository) Create(ctx context.Context, installment *domain.DuesInstallment) (*domain.DuesInstallment, error) {
	amount, err := decimalToPgNumeric(installment.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	remaining, err := decimalToPgNumeric(installment.RemainingAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid remaining amount: %w", err)
	}

	created, err := scanInstallment(conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO dues_installments (billing_group_id, unit_id, period, due_date, amount, remaining_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING `+installmentColumns,
		installment.BillingGroupID, installment.UnitID, installment.Period, installment.DueDate,
		amount, remaining, string(installment.Status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDuplicateInstallment
		}
		return nil, mapError(err)
	}
	return created, nil
}

// Exists reports whether (group, period, unit) has an installment; a nil unit means the group-level row
func (r *InstallmentRepository) Exists(ctx context.Context, groupID int32, period string, unitID *int32) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dues_installments
			WHERE billing_group_id = $1 AND period = $2 AND unit_id IS NOT DISTINCT FROM $3
		)`, groupID, period, unitID).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// ListByPeriod returns the period's installments ordered by ID
func (r *InstallmentRepository) ListByPeriod(ctx context.Context, period string) ([]*domain.DuesInstallment, error) {
	return r.query(ctx, `
		SELECT `+installmentColumns+`
		FROM dues_installments
		WHERE period = $1
		ORDER BY id`, period)
}

// ListLegacyUnsplit returns group-level installments of non-merged groups for the period
func (r *InstallmentRepository) ListLegacyUnsplit(ctx context.Context, period string) ([]*domain.DuesInstallment, error) {
	return r.query(ctx, `
		SELECT di.id, di.billing_group_id, di.unit_id, di.period, di.due_date, di.amount, di.remaining_amount, di.status
		FROM dues_installments di
		JOIN billing_groups bg ON bg.id = di.billing_group_id
		WHERE di.period = $1 AND di.unit_id IS NULL AND NOT bg.is_merged
		ORDER BY di.id`, period)
}

// ListOpenByGroup returns the group's installments with a positive balance, oldest first
func (r *InstallmentRepository) ListOpenByGroup(ctx context.Context, groupID int32) ([]*domain.DuesInstallment, error) {
	return r.query(ctx, `
		SELECT `+installmentColumns+`
		FROM dues_installments
		WHERE billing_group_id = $1 AND remaining_amount > 0
		ORDER BY period, due_date, id`, groupID)
}

// List returns installments matching the filter ordered by period, group and ID
func (r *InstallmentRepository) List(ctx context.Context, filter domain.InstallmentFilter) ([]*domain.DuesInstallment, error) {
	groupIDs := filter.BillingGroupIDs
	if groupIDs == nil {
		groupIDs = []int32{}
	}
	return r.query(ctx, `
		SELECT `+installmentColumns+`
		FROM dues_installments
		WHERE ($1::char(9) IS NULL OR period = $1)
		  AND (cardinality($2::int[]) = 0 OR billing_group_id = ANY($2))
		ORDER BY period, billing_group_id, id`, filter.Period, groupIDs)
}

// AssignUnit stamps a unit on a group-level installment
func (r *InstallmentRepository) AssignUnit(ctx context.Context, id int32, unitID int32) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `UPDATE dues_installments SET unit_id = $2 WHERE id = $1`, id, unitID)
	if err != nil {
		if isPgError(err, codeUniqueViolation) {
			return domain.ErrDuplicateInstallment
		}
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateBalance persists remaining amount and status
func (r *InstallmentRepository) UpdateBalance(ctx context.Context, installment *domain.DuesInstallment) error {
	remaining, err := decimalToPgNumeric(installment.RemainingAmount)
	if err != nil {
		return fmt.Errorf("invalid remaining amount: %w", err)
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE dues_installments SET remaining_amount = $2, status = $3 WHERE id = $1`,
		installment.ID, remaining, string(installment.Status))
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteByIDs removes installments and returns how many were deleted
func (r *InstallmentRepository) DeleteByIDs(ctx context.Context, ids []int32) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM dues_installments WHERE id = ANY($1)`, ids)
	if err != nil {
		if isPgError(err, codeForeignKeyViolation) {
			return 0, domain.ErrPeriodHasAllocatedPayments
		}
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

// Totals sums amount and remaining over every installment
func (r *InstallmentRepository) Totals(ctx context.Context) (*domain.InstallmentTotals, error) {
	var generated, remaining pgtype.Numeric
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(remaining_amount), 0)
		FROM dues_installments`).Scan(&generated, &remaining)
	if err != nil {
		return nil, mapError(err)
	}
	return &domain.InstallmentTotals{
		Generated: pgNumericToDecimal(generated),
		Remaining: pgNumericToDecimal(remaining),
	}, nil
}
