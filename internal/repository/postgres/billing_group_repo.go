package postgres

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kumburgaz/dues-backend/internal/domain"
)

// BillingGroupRepository implements domain.BillingGroupRepository using PostgreSQL
type BillingGroupRepository struct {
	pool *pgxpool.Pool
}

// NewBillingGroupRepository creates a new BillingGroupRepository
func NewBillingGroupRepository(pool *pgxpool.Pool) *BillingGroupRepository {
	return &BillingGroupRepository{pool: pool}
}

const billingGroupColumns = `id, name, dues_type_id, effective_start_period, effective_end_period,
	active, is_merged, created_at, updated_at`

func scanBillingGroup(row pgx.Row) (*domain.BillingGroup, error) {
	var g domain.BillingGroup
	err := row.Scan(&g.ID, &g.Name, &g.DuesTypeID, &g.EffectiveStartPeriod, &g.EffectiveEndPeriod,
		&g.Active, &g.IsMerged, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Members = []domain.UnitMembership{}
	return &g, nil
}

// GetByID retrieves a group with its memberships
func (r *BillingGroupRepository) GetByID(ctx context.Context, id int32) (*domain.BillingGroup, error) {
	q := conn(ctx, r.pool)
	g, err := scanBillingGroup(q.QueryRow(ctx, `SELECT `+billingGroupColumns+` FROM billing_groups WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBillingGroupNotFound
		}
		return nil, mapError(err)
	}
	if err := r.attachMembers(ctx, q, []*domain.BillingGroup{g}); err != nil {
		return nil, err
	}
	return g, nil
}

// GetByIDs retrieves groups with their memberships, skipping unknown ids
func (r *BillingGroupRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]*domain.BillingGroup, error) {
	result := make(map[int32]*domain.BillingGroup, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	groups, err := r.query(ctx, `SELECT `+billingGroupColumns+` FROM billing_groups WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		result[g.ID] = g
	}
	return result, nil
}

// List returns groups with memberships ordered by name
func (r *BillingGroupRepository) List(ctx context.Context, filter domain.BillingGroupFilter) ([]*domain.BillingGroup, error) {
	return r.query(ctx, `
		SELECT `+billingGroupColumns+`
		FROM billing_groups
		WHERE active OR NOT $1
		ORDER BY name, id`, filter.ActiveOnly)
}

func (r *BillingGroupRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.BillingGroup, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	groups := []*domain.BillingGroup{}
	for rows.Next() {
		g, err := scanBillingGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	if err := r.attachMembers(ctx, q, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// attachMembers loads the memberships of groups in one query
func (r *BillingGroupRepository) attachMembers(ctx context.Context, q querier, groups []*domain.BillingGroup) error {
	if len(groups) == 0 {
		return nil
	}
	byID := make(map[int32]*domain.BillingGroup, len(groups))
	ids := make([]int32, 0, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
		ids = append(ids, g.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT id, billing_group_id, unit_id, start_period, end_period
		FROM billing_group_units
		WHERE billing_group_id = ANY($1)
		ORDER BY billing_group_id, id`, ids)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.UnitMembership
		if err := rows.Scan(&m.ID, &m.BillingGroupID, &m.UnitID, &m.StartPeriod, &m.EndPeriod); err != nil {
			return err
		}
		if g, ok := byID[m.BillingGroupID]; ok {
			g.Members = append(g.Members, m)
		}
	}
	return mapError(rows.Err())
}

// Create inserts a group without memberships
func (r *BillingGroupRepository) Create(ctx context.Context, group *domain.BillingGroup) (*domain.BillingGroup, error) {
	created, err := scanBillingGroup(conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO billing_groups (name, dues_type_id, effective_start_period, effective_end_period, active, is_merged)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+billingGroupColumns,
		group.Name, group.DuesTypeID, group.EffectiveStartPeriod, group.EffectiveEndPeriod, group.Active, group.IsMerged))
	if err != nil {
		return nil, mapError(err)
	}
	return created, nil
}

// Update overwrites a group's own fields
func (r *BillingGroupRepository) Update(ctx context.Context, group *domain.BillingGroup) (*domain.BillingGroup, error) {
	updated, err := scanBillingGroup(conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE billing_groups
		SET name = $2, dues_type_id = $3, effective_start_period = $4, effective_end_period = $5,
			active = $6, is_merged = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+billingGroupColumns,
		group.ID, group.Name, group.DuesTypeID, group.EffectiveStartPeriod, group.EffectiveEndPeriod, group.Active, group.IsMerged))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBillingGroupNotFound
		}
		return nil, mapError(err)
	}
	return updated, nil
}

// ReplaceMembers drops the group's memberships and inserts members
func (r *BillingGroupRepository) ReplaceMembers(ctx context.Context, groupID int32, members []domain.UnitMembership) error {
	q := conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM billing_group_units WHERE billing_group_id = $1`, groupID); err != nil {
		return mapError(err)
	}
	if len(members) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range members {
		batch.Queue(`
			INSERT INTO billing_group_units (billing_group_id, unit_id, start_period, end_period)
			VALUES ($1, $2, $3, $4)`, groupID, m.UnitID, m.StartPeriod, m.EndPeriod)
	}
	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for range members {
		if _, err := results.Exec(); err != nil {
			if isPgError(err, codeForeignKeyViolation) {
				return domain.ErrUnitNotFound
			}
			return mapError(err)
		}
	}
	return nil
}

// SetActive toggles the active flag
func (r *BillingGroupRepository) SetActive(ctx context.Context, id int32, active bool) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE billing_groups SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBillingGroupNotFound
	}
	return nil
}

// Lock takes row locks on the groups in ascending id order so concurrent writers cannot deadlock.
// It must be called inside a transaction.
func (r *BillingGroupRepository) Lock(ctx context.Context, ids ...int32) error {
	if len(ids) == 0 {
		return nil
	}
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); !ok {
		return errors.New("lock billing groups: no transaction in context")
	}

	sorted := append([]int32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id FROM billing_groups
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, sorted)
	if err != nil {
		return mapError(err)
	}
	rows.Close()
	return mapError(rows.Err())
}

// GroupIDsWithUnitsInBlock returns groups having at least one member unit in the block
func (r *BillingGroupRepository) GroupIDsWithUnitsInBlock(ctx context.Context, blockID int32) ([]int32, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT DISTINCT bgu.billing_group_id
		FROM billing_group_units bgu
		JOIN units u ON u.id = bgu.unit_id
		WHERE u.block_id = $1
		ORDER BY bgu.billing_group_id`, blockID)
	if err != nil {
		return nil, mapError(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

// CountActive counts active groups
func (r *BillingGroupRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM billing_groups WHERE active`).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}
