package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/shopspring/decimal"
)

// CollectionRepository implements domain.CollectionRepository using PostgreSQL
type CollectionRepository struct {
	pool *pgxpool.Pool
}

// NewCollectionRepository creates a new CollectionRepository
func NewCollectionRepository(pool *pgxpool.Pool) *CollectionRepository {
	return &CollectionRepository{pool: pool}
}

const collectionColumns = `id, billing_group_id, unit_id, collection_date, amount, payment_channel,
	reference_no, note, created_at, updated_at`

func scanCollection(row pgx.Row) (*domain.Collection, error) {
	var c domain.Collection
	var amount pgtype.Numeric
	var channel string
	err := row.Scan(&c.ID, &c.BillingGroupID, &c.UnitID, &c.Date, &amount, &channel,
		&c.ReferenceNo, &c.Note, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Amount = pgNumericToDecimal(amount)
	c.PaymentChannel = domain.PaymentChannel(channel)
	return &c, nil
}

// GetByID retrieves a collection with its allocations
func (r *CollectionRepository) GetByID(ctx context.Context, id int32) (*domain.Collection, error) {
	q := conn(ctx, r.pool)
	c, err := scanCollection(q.QueryRow(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCollectionNotFound
		}
		return nil, mapError(err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, collection_id, installment_id, applied_amount
		FROM collection_allocations
		WHERE collection_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	c.Allocations = []domain.CollectionAllocation{}
	for rows.Next() {
		var a domain.CollectionAllocation
		var applied pgtype.Numeric
		if err := rows.Scan(&a.ID, &a.CollectionID, &a.InstallmentID, &applied); err != nil {
			return nil, err
		}
		a.AppliedAmount = pgNumericToDecimal(applied)
		c.Allocations = append(c.Allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// GetByIDForUpdate locks the collection row until the transaction ends and returns it without allocations.
// It must be called inside a transaction.
func (r *CollectionRepository) GetByIDForUpdate(ctx context.Context, id int32) (*domain.Collection, error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); !ok {
		return nil, errors.New("lock collection: no transaction in context")
	}
	c, err := scanCollection(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCollectionNotFound
		}
		return nil, mapError(err)
	}
	return c, nil
}

// List returns collections newest first, without allocations
func (r *CollectionRepository) List(ctx context.Context) ([]*domain.Collection, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+collectionColumns+`
		FROM collections
		ORDER BY collection_date DESC, id DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := []*domain.Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, mapError(rows.Err())
}

// Create inserts a collection without allocations
func (r *CollectionRepository) Create(ctx context.Context, collection *domain.Collection) (*domain.Collection, error) {
	amount, err := decimalToPgNumeric(collection.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	created, err := scanCollection(conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO collections (billing_group_id, unit_id, collection_date, amount, payment_channel, reference_no, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+collectionColumns,
		collection.BillingGroupID, collection.UnitID, collection.Date, amount, string(collection.PaymentChannel),
		collection.ReferenceNo, collection.Note))
	if err != nil {
		return nil, mapError(err)
	}
	return created, nil
}

// Update overwrites a collection's fields
func (r *CollectionRepository) Update(ctx context.Context, collection *domain.Collection) (*domain.Collection, error) {
	amount, err := decimalToPgNumeric(collection.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	updated, err := scanCollection(conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE collections
		SET billing_group_id = $2, unit_id = $3, collection_date = $4, amount = $5, payment_channel = $6,
			reference_no = $7, note = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING `+collectionColumns,
		collection.ID, collection.BillingGroupID, collection.UnitID, collection.Date, amount,
		string(collection.PaymentChannel), collection.ReferenceNo, collection.Note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCollectionNotFound
		}
		return nil, mapError(err)
	}
	return updated, nil
}

// Delete removes a collection; its allocations go with it
func (r *CollectionRepository) Delete(ctx context.Context, id int32) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCollectionNotFound
	}
	return nil
}

// CreateAllocations inserts allocations in one round trip
func (r *CollectionRepository) CreateAllocations(ctx context.Context, allocations []domain.CollectionAllocation) error {
	if len(allocations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range allocations {
		applied, err := decimalToPgNumeric(a.AppliedAmount)
		if err != nil {
			return fmt.Errorf("invalid applied amount: %w", err)
		}
		batch.Queue(`
			INSERT INTO collection_allocations (collection_id, installment_id, applied_amount)
			VALUES ($1, $2, $3)`, a.CollectionID, a.InstallmentID, applied)
	}

	results := conn(ctx, r.pool).SendBatch(ctx, batch)
	defer results.Close()
	for range allocations {
		if _, err := results.Exec(); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// DeleteAllocations removes every allocation of a collection
func (r *CollectionRepository) DeleteAllocations(ctx context.Context, collectionID int32) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM collection_allocations WHERE collection_id = $1`, collectionID)
	return mapError(err)
}

// CountAllocatedInstallments counts how many of the installments have at least one allocation
func (r *CollectionRepository) CountAllocatedInstallments(ctx context.Context, installmentIDs []int32) (int, error) {
	if len(installmentIDs) == 0 {
		return 0, nil
	}
	var count int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(DISTINCT installment_id)
		FROM collection_allocations
		WHERE installment_id = ANY($1)`, installmentIDs).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// CreditByGroups returns sum(amount) - sum(applied) over each group's collections
func (r *CollectionRepository) CreditByGroups(ctx context.Context, groupIDs []int32) (map[int32]decimal.Decimal, error) {
	result := make(map[int32]decimal.Decimal, len(groupIDs))
	if len(groupIDs) == 0 {
		return result, nil
	}

	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT c.billing_group_id, SUM(c.amount - COALESCE(a.applied, 0))
		FROM collections c
		LEFT JOIN (
			SELECT collection_id, SUM(applied_amount) AS applied
			FROM collection_allocations
			GROUP BY collection_id
		) a ON a.collection_id = c.id
		WHERE c.billing_group_id = ANY($1)
		GROUP BY c.billing_group_id`, groupIDs)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var groupID int32
		var credit pgtype.Numeric
		if err := rows.Scan(&groupID, &credit); err != nil {
			return nil, err
		}
		result[groupID] = pgNumericToDecimal(credit)
	}
	return result, mapError(rows.Err())
}

// TotalAmount sums every collection
func (r *CollectionRepository) TotalAmount(ctx context.Context) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM collections`).Scan(&total)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return pgNumericToDecimal(total), nil
}
