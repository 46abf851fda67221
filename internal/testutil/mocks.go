package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/websocket"
	"github.com/shopspring/decimal"
)

type txKey struct{}

type rowTxKey struct{}

// rowTx holds the row locks taken inside one RowLockingTransactor transaction
type rowTx struct {
	held map[string]*sync.Mutex
}

// MockDB is the in-memory state shared by the mock repositories.
// Repository calls outside MockTransactor.WithinTx take the store mutex themselves;
// calls inside run under the mutex held by the transaction.
type MockDB struct {
	mu sync.Mutex

	Blocks       map[int32]*domain.Block
	Units        map[int32]*domain.Unit
	DuesTypes    map[int32]*domain.DuesType
	Groups       map[int32]*domain.BillingGroup
	Memberships  []domain.UnitMembership
	Installments map[int32]*domain.DuesInstallment
	Collections  map[int32]*domain.Collection
	Allocations  []domain.CollectionAllocation

	// FailOn makes the named operation (e.g. "installments.UpdateBalance") return the error
	FailOn map[string]error
	// LockCalls records the group ids passed to BillingGroupRepository.Lock
	LockCalls [][]int32

	nextID int32
	now    time.Time

	rowMu    sync.Mutex
	rowLocks map[string]*sync.Mutex
}

// NewMockDB creates an empty MockDB
func NewMockDB() *MockDB {
	return &MockDB{
		Blocks:       make(map[int32]*domain.Block),
		Units:        make(map[int32]*domain.Unit),
		DuesTypes:    make(map[int32]*domain.DuesType),
		Groups:       make(map[int32]*domain.BillingGroup),
		Installments: make(map[int32]*domain.DuesInstallment),
		Collections:  make(map[int32]*domain.Collection),
		FailOn:       make(map[string]error),
		nextID:       1,
		now:          time.Date(2025, time.September, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (db *MockDB) enter(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	db.mu.Lock()
	return db.mu.Unlock
}

// lockRows takes row locks in the given order for the RowLockingTransactor transaction in ctx.
// Locks already held by that transaction are skipped. Outside one it does nothing.
func (db *MockDB) lockRows(ctx context.Context, keys ...string) {
	tx, ok := ctx.Value(rowTxKey{}).(*rowTx)
	if !ok {
		return
	}
	for _, key := range keys {
		if _, held := tx.held[key]; held {
			continue
		}
		db.rowMu.Lock()
		if db.rowLocks == nil {
			db.rowLocks = make(map[string]*sync.Mutex)
		}
		row, ok := db.rowLocks[key]
		if !ok {
			row = &sync.Mutex{}
			db.rowLocks[key] = row
		}
		db.rowMu.Unlock()

		row.Lock()
		tx.held[key] = row
	}
}

func (db *MockDB) fail(op string) error {
	return db.FailOn[op]
}

func (db *MockDB) id() int32 {
	id := db.nextID
	db.nextID++
	return id
}

type snapshot struct {
	groups       map[int32]domain.BillingGroup
	memberships  []domain.UnitMembership
	installments map[int32]domain.DuesInstallment
	collections  map[int32]domain.Collection
	allocations  []domain.CollectionAllocation
	nextID       int32
}

func (db *MockDB) snapshot() snapshot {
	s := snapshot{
		groups:       make(map[int32]domain.BillingGroup, len(db.Groups)),
		memberships:  append([]domain.UnitMembership(nil), db.Memberships...),
		installments: make(map[int32]domain.DuesInstallment, len(db.Installments)),
		collections:  make(map[int32]domain.Collection, len(db.Collections)),
		allocations:  append([]domain.CollectionAllocation(nil), db.Allocations...),
		nextID:       db.nextID,
	}
	for id, g := range db.Groups {
		s.groups[id] = *g
	}
	for id, i := range db.Installments {
		s.installments[id] = *i
	}
	for id, c := range db.Collections {
		s.collections[id] = *c
	}
	return s
}

func (db *MockDB) restore(s snapshot) {
	db.Groups = make(map[int32]*domain.BillingGroup, len(s.groups))
	for id, g := range s.groups {
		db.Groups[id] = &g
	}
	db.Installments = make(map[int32]*domain.DuesInstallment, len(s.installments))
	for id, i := range s.installments {
		db.Installments[id] = &i
	}
	db.Collections = make(map[int32]*domain.Collection, len(s.collections))
	for id, c := range s.collections {
		db.Collections[id] = &c
	}
	db.Memberships = s.memberships
	db.Allocations = s.allocations
	db.nextID = s.nextID
}

// AddBlock adds a block (helper for tests)
func (db *MockDB) AddBlock(name string) *domain.Block {
	b := &domain.Block{ID: db.id(), Name: name}
	db.Blocks[b.ID] = b
	return b
}

// AddUnit adds an active unit to a block (helper for tests)
func (db *MockDB) AddUnit(blockID int32, unitNo string) *domain.Unit {
	u := &domain.Unit{ID: db.id(), BlockID: blockID, UnitNo: unitNo, Active: true}
	db.Units[u.ID] = u
	return u
}

// AddDuesType adds an active dues type (helper for tests)
func (db *MockDB) AddDuesType(name string, amount int64) *domain.DuesType {
	dt := &domain.DuesType{ID: db.id(), Name: name, Amount: decimal.NewFromInt(amount), Active: true}
	db.DuesTypes[dt.ID] = dt
	return dt
}

// AddBillingGroup adds an active group whose memberships share the group window (helper for tests)
func (db *MockDB) AddBillingGroup(name string, duesTypeID int32, merged bool, startPeriod string, unitIDs ...int32) *domain.BillingGroup {
	g := &domain.BillingGroup{
		ID:                   db.id(),
		Name:                 name,
		DuesTypeID:           duesTypeID,
		EffectiveStartPeriod: startPeriod,
		Active:               true,
		IsMerged:             merged,
		CreatedAt:            db.now,
		UpdatedAt:            db.now,
	}
	db.Groups[g.ID] = g
	for _, unitID := range unitIDs {
		db.Memberships = append(db.Memberships, domain.UnitMembership{
			ID:             db.id(),
			BillingGroupID: g.ID,
			UnitID:         unitID,
			StartPeriod:    startPeriod,
		})
	}
	return g
}

// AddInstallment stores an installment as is (helper for tests)
func (db *MockDB) AddInstallment(inst *domain.DuesInstallment) *domain.DuesInstallment {
	inst.ID = db.id()
	c := *inst
	db.Installments[c.ID] = &c
	return inst
}

// AddCollection stores a collection and its allocations as is (helper for tests)
func (db *MockDB) AddCollection(c *domain.Collection) *domain.Collection {
	c.ID = db.id()
	stored := *c
	stored.Allocations = nil
	db.Collections[c.ID] = &stored
	for i := range c.Allocations {
		c.Allocations[i].ID = db.id()
		c.Allocations[i].CollectionID = c.ID
		db.Allocations = append(db.Allocations, c.Allocations[i])
	}
	return c
}

// Installment returns a copy of the stored installment, or nil
func (db *MockDB) Installment(id int32) *domain.DuesInstallment {
	db.mu.Lock()
	defer db.mu.Unlock()
	if inst, ok := db.Installments[id]; ok {
		c := *inst
		return &c
	}
	return nil
}

// InstallmentsOf returns copies of a group's installments ordered by period, unit and id
func (db *MockDB) InstallmentsOf(groupID int32) []*domain.DuesInstallment {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*domain.DuesInstallment
	for _, inst := range db.Installments {
		if inst.BillingGroupID == groupID {
			c := *inst
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AllocationsOf returns the allocations recorded for a collection
func (db *MockDB) AllocationsOf(collectionID int32) []domain.CollectionAllocation {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.CollectionAllocation
	for _, a := range db.Allocations {
		if a.CollectionID == collectionID {
			out = append(out, a)
		}
	}
	return out
}

// MockTransactor implements domain.Transactor over a MockDB.
// Transactions are serialized and a failed transaction restores the store.
type MockTransactor struct {
	DB        *MockDB
	Commits   int
	Rollbacks int
}

// NewMockTransactor creates a new MockTransactor
func NewMockTransactor(db *MockDB) *MockTransactor {
	return &MockTransactor{DB: db}
}

// WithinTx runs fn while holding the store
func (t *MockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.DB.mu.Lock()
	defer t.DB.mu.Unlock()

	snap := t.DB.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.DB.restore(snap)
		t.Rollbacks++
		return err
	}
	t.Commits++
	return nil
}

// RowLockingTransactor implements domain.Transactor without serializing whole transactions.
// Each repository call runs alone, and the row locks taken by BillingGroupRepository.Lock and
// CollectionRepository.GetByIDForUpdate are held until fn returns, as under READ COMMITTED.
// A failed transaction is not undone.
type RowLockingTransactor struct {
	DB *MockDB
}

// NewRowLockingTransactor creates a new RowLockingTransactor
func NewRowLockingTransactor(db *MockDB) *RowLockingTransactor {
	return &RowLockingTransactor{DB: db}
}

// WithinTx runs fn and releases its row locks afterwards
func (t *RowLockingTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &rowTx{held: make(map[string]*sync.Mutex)}
	defer func() {
		for _, row := range tx.held {
			row.Unlock()
		}
	}()
	return fn(context.WithValue(ctx, rowTxKey{}, tx))
}

// MockUnitRepository is a mock implementation of domain.UnitRepository
type MockUnitRepository struct {
	db *MockDB
}

// NewMockUnitRepository creates a new MockUnitRepository
func NewMockUnitRepository(db *MockDB) *MockUnitRepository {
	return &MockUnitRepository{db: db}
}

// GetByID retrieves a unit by ID
func (m *MockUnitRepository) GetByID(ctx context.Context, id int32) (*domain.Unit, error) {
	defer m.db.enter(ctx)()
	if u, ok := m.db.Units[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, domain.ErrUnitNotFound
}

// GetLabels resolves units with their block names
func (m *MockUnitRepository) GetLabels(ctx context.Context, ids []int32) (map[int32]domain.UnitLabel, error) {
	defer m.db.enter(ctx)()
	if err := m.db.fail("units.GetLabels"); err != nil {
		return nil, err
	}
	labels := make(map[int32]domain.UnitLabel, len(ids))
	for _, id := range ids {
		u, ok := m.db.Units[id]
		if !ok {
			continue
		}
		label := domain.UnitLabel{UnitID: u.ID, BlockID: u.BlockID, UnitNo: u.UnitNo}
		if b, ok := m.db.Blocks[u.BlockID]; ok {
			label.BlockName = b.Name
		}
		labels[id] = label
	}
	return labels, nil
}

// MockDuesTypeRepository is a mock implementation of domain.DuesTypeRepository
type MockDuesTypeRepository struct {
	db *MockDB
}

// NewMockDuesTypeRepository creates a new MockDuesTypeRepository
func NewMockDuesTypeRepository(db *MockDB) *MockDuesTypeRepository {
	return &MockDuesTypeRepository{db: db}
}

// GetByID retrieves a dues type by ID
func (m *MockDuesTypeRepository) GetByID(ctx context.Context, id int32) (*domain.DuesType, error) {
	defer m.db.enter(ctx)()
	if dt, ok := m.db.DuesTypes[id]; ok {
		c := *dt
		return &c, nil
	}
	return nil, domain.ErrDuesTypeNotFound
}

// GetByIDs retrieves dues types by ID, skipping unknown ones
func (m *MockDuesTypeRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]*domain.DuesType, error) {
	defer m.db.enter(ctx)()
	out := make(map[int32]*domain.DuesType, len(ids))
	for _, id := range ids {
		if dt, ok := m.db.DuesTypes[id]; ok {
			c := *dt
			out[id] = &c
		}
	}
	return out, nil
}

// MockBillingGroupRepository is a mock implementation of domain.BillingGroupRepository
type MockBillingGroupRepository struct {
	db *MockDB
}

// NewMockBillingGroupRepository creates a new MockBillingGroupRepository
func NewMockBillingGroupRepository(db *MockDB) *MockBillingGroupRepository {
	return &MockBillingGroupRepository{db: db}
}

func (m *MockBillingGroupRepository) load(id int32) (*domain.BillingGroup, bool) {
	g, ok := m.db.Groups[id]
	if !ok {
		return nil, false
	}
	c := *g
	c.Members = nil
	for _, ms := range m.db.Memberships {
		if ms.BillingGroupID == id {
			c.Members = append(c.Members, ms)
		}
	}
	return &c, true
}

// GetByID retrieves a group with its memberships
func (m *MockBillingGroupRepository) GetByID(ctx context.Context, id int32) (*domain.BillingGroup, error) {
	defer m.db.enter(ctx)()
	if err := m.db.fail("groups.GetByID"); err != nil {
		return nil, err
	}
	if g, ok := m.load(id); ok {
		return g, nil
	}
	return nil, domain.ErrBillingGroupNotFound
}

// GetByIDs retrieves groups by ID, skipping unknown ones
func (m *MockBillingGroupRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]*domain.BillingGroup, error) {
	defer m.db.enter(ctx)()
	out := make(map[int32]*domain.BillingGroup, len(ids))
	for _, id := range ids {
		if g, ok := m.load(id); ok {
			out[id] = g
		}
	}
	return out, nil
}

// List returns groups ordered by name
func (m *MockBillingGroupRepository) List(ctx context.Context, filter domain.BillingGroupFilter) ([]*domain.BillingGroup, error) {
	defer m.db.enter(ctx)()
	out := make([]*domain.BillingGroup, 0, len(m.db.Groups))
	for id, g := range m.db.Groups {
		if filter.ActiveOnly && !g.Active {
			continue
		}
		loaded, _ := m.load(id)
		out = append(out, loaded)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Create inserts a group without memberships
func (m *MockBillingGroupRepository) Create(ctx context.Context, group *domain.BillingGroup) (*domain.BillingGroup, error) {
	defer m.db.enter(ctx)()
	if err := m.db.fail("groups.Create"); err != nil {
		return nil, err
	}
	c := *group
	c.ID = m.db.id()
	c.Members = nil
	c.CreatedAt = m.db.now
	c.UpdatedAt = m.db.now
	m.db.Groups[c.ID] = &c
	out := c
	return &out, nil
}

// Update overwrites a group's own fields
func (m *MockBillingGroupRepository) Update(ctx context.Context, group *domain.BillingGroup) (*domain.BillingGroup, error) {
	defer m.db.enter(ctx)()
	existing, ok := m.db.Groups[group.ID]
	if !ok {
		return nil, domain.ErrBillingGroupNotFound
	}
	c := *group
	c.Members = nil
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.db.now
	m.db.Groups[c.ID] = &c
	out := c
	return &out, nil
}

// ReplaceMembers swaps the group's memberships
func (m *MockBillingGroupRepository) ReplaceMembers(ctx context.Context, groupID int32, members []domain.UnitMembership) error {
	defer m.db.enter(ctx)()
	if err := m.db.fail("groups.ReplaceMembers"); err != nil {
		return err
	}
	kept := m.db.Memberships[:0:0]
	for _, ms := range m.db.Memberships {
		if ms.BillingGroupID != groupID {
			kept = append(kept, ms)
		}
	}
	for _, ms := range members {
		if _, ok := m.db.Units[ms.UnitID]; !ok {
			return domain.ErrUnitNotFound
		}
		ms.ID = m.db.id()
		ms.BillingGroupID = groupID
		kept = append(kept, ms)
	}
	m.db.Memberships = kept
	return nil
}

// SetActive toggles the active flag
func (m *MockBillingGroupRepository) SetActive(ctx context.Context, id int32, active bool) error {
	defer m.db.enter(ctx)()
	g, ok := m.db.Groups[id]
	if !ok {
		return domain.ErrBillingGroupNotFound
	}
	g.Active = active
	g.UpdatedAt = m.db.now
	return nil
}

// Lock records the call. Under MockTransactor the store mutex already serializes transactions;
// under RowLockingTransactor it takes the group row locks in ascending id order.
func (m *MockBillingGroupRepository) Lock(ctx context.Context, ids ...int32) error {
	sorted := append([]int32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	keys := make([]string, len(sorted))
	for i, id := range sorted {
		keys[i] = fmt.Sprintf("billing_group:%d", id)
	}
	m.db.lockRows(ctx, keys...)

	defer m.db.enter(ctx)()
	if err := m.db.fail("groups.Lock"); err != nil {
		return err
	}
	m.db.LockCalls = append(m.db.LockCalls, sorted)
	return nil
}

// GroupIDsWithUnitsInBlock returns groups with a member unit in the block
func (m *MockBillingGroupRepository) GroupIDsWithUnitsInBlock(ctx context.Context, blockID int32) ([]int32, error) {
	defer m.db.enter(ctx)()
	seen := make(map[int32]bool)
	var ids []int32
	for _, ms := range m.db.Memberships {
		u, ok := m.db.Units[ms.UnitID]
		if !ok || u.BlockID != blockID || seen[ms.BillingGroupID] {
			continue
		}
		seen[ms.BillingGroupID] = true
		ids = append(ids, ms.BillingGroupID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// CountActive counts active groups
func (m *MockBillingGroupRepository) CountActive(ctx context.Context) (int, error) {
	defer m.db.enter(ctx)()
	n := 0
	for _, g := range m.db.Groups {
		if g.Active {
			n++
		}
	}
	return n, nil
}

// MockInstallmentRepository is a mock implementation of domain.InstallmentRepository
type MockInstallmentRepository struct {
	db *MockDB
}

// NewMockInstallmentRepository creates a new MockInstallmentRepository
func NewMockInstallmentRepository(db *MockDB) *MockInstallmentRepository {
	return &MockInstallmentRepository{db: db}
}

func (m *MockInstallmentRepository) find(groupID int32, period string, unitID *int32) *domain.DuesInstallment {
	for _, inst := range m.db.Installments {
		if inst.BillingGroupID == groupID && inst.Period == period && inst.SameUnit(unitID) {
			return inst
		}
	}
	return nil
}

func (m *MockInstallmentRepository) collect(keep func(*domain.DuesInstallment) bool) []*domain.DuesInstallment {
	var out []*domain.DuesInstallment
	for _, inst := range m.db.Installments {
		if keep(inst) {
			c := *inst
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetByIDs retrieves installments by ID, skipping unknown ones
func (m *MockInstallmentRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]*domain.DuesInstallment, error) {
	defer m.db.enter(ctx)()
	out := make(map[int32]*domain.DuesInstallment, len(ids))
	for _, id := range ids {
		if inst, ok := m.db.Installments[id]; ok {
			c := *inst
			out[id] = &c
		}
	}
	return out, nil
}

// Create inserts an installment unless (group, period, unit) is taken
func (m *MockInstallmentRepository) Create(ctx context.Context, installment *domain.DuesInstallment) (*domain.DuesInstallment, error) {
	defer m.db.enter(ctx)()
	if err := m.db.fail("installments.Create"); err != nil {
		return nil, err
	}
	if m.find(installment.BillingGroupID, installment.Period, installment.UnitID) != nil {
		return nil, domain.ErrDuplicateInstallment
	}
	c := *installment
	c.ID = m.db.id()
	m.db.Installments[c.ID] = &c
	out := c
	return &out, nil
}

// Exists reports whether (group, period, unit) has an installment
func (m *MockInstallmentRepository) Exists(ctx context.Context, groupID int32, period string, unitID *int32) (bool, error) {
	defer m.db.enter(ctx)()
	return m.find(groupID, period, unitID) != nil, nil
}

// ListByPeriod returns the period's installments ordered by ID
func (m *MockInstallmentRepository) ListByPeriod(ctx context.Context, period string) ([]*domain.DuesInstallment, error) {
	defer m.db.enter(ctx)()
	return m.collect(func(i *domain.DuesInstallment) bool { return i.Period == period }), nil
}

// ListLegacyUnsplit returns group-level rows of non-merged groups
func (m *MockInstallmentRepository) ListLegacyUnsplit(ctx context.Context, period string) ([]*domain.DuesInstallment, error) {
	defer m.db.enter(ctx)()
	return m.collect(func(i *domain.DuesInstallment) bool {
		g, ok := m.db.Groups[i.BillingGroupID]
		return ok && !g.IsMerged && i.Period == period && i.UnitID == nil
	}), nil
}

// ListOpenByGroup returns a group's open installments oldest first
func (m *MockInstallmentRepository) ListOpenByGroup(ctx context.Context, groupID int32) ([]*domain.DuesInstallment, error) {
	defer m.db.enter(ctx)()
	out := m.collect(func(i *domain.DuesInstallment) bool {
		return i.BillingGroupID == groupID && i.RemainingAmount.GreaterThan(decimal.Zero)
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// List returns filtered installments ordered by period, group and ID
func (m *MockInstallmentRepository) List(ctx context.Context, filter domain.InstallmentFilter) ([]*domain.DuesInstallment, error) {
	defer m.db.enter(ctx)()
	groups := make(map[int32]bool, len(filter.BillingGroupIDs))
	for _, id := range filter.BillingGroupIDs {
		groups[id] = true
	}
	out := m.collect(func(i *domain.DuesInstallment) bool {
		if filter.Period != nil && i.Period != *filter.Period {
			return false
		}
		return len(groups) == 0 || groups[i.BillingGroupID]
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		if out[i].BillingGroupID != out[j].BillingGroupID {
			return out[i].BillingGroupID < out[j].BillingGroupID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AssignUnit stamps a unit on a group-level installment
func (m *MockInstallmentRepository) AssignUnit(ctx context.Context, id int32, unitID int32) error {
	defer m.db.enter(ctx)()
	if err := m.db.fail("installments.AssignUnit"); err != nil {
		return err
	}
	inst, ok := m.db.Installments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if other := m.find(inst.BillingGroupID, inst.Period, &unitID); other != nil && other.ID != id {
		return domain.ErrDuplicateInstallment
	}
	u := unitID
	inst.UnitID = &u
	return nil
}

// UpdateBalance persists remaining amount and status
func (m *MockInstallmentRepository) UpdateBalance(ctx context.Context, installment *domain.DuesInstallment) error {
	defer m.db.enter(ctx)()
	if err := m.db.fail("installments.UpdateBalance"); err != nil {
		return err
	}
	inst, ok := m.db.Installments[installment.ID]
	if !ok {
		return domain.ErrNotFound
	}
	inst.RemainingAmount = installment.RemainingAmount
	inst.Status = installment.Status
	return nil
}

// DeleteByIDs removes installments; referenced installments are refused like a foreign key would
func (m *MockInstallmentRepository) DeleteByIDs(ctx context.Context, ids []int32) (int, error) {
	defer m.db.enter(ctx)()
	if err := m.db.fail("installments.DeleteByIDs"); err != nil {
		return 0, err
	}
	for _, id := range ids {
		for _, a := range m.db.Allocations {
			if a.InstallmentID == id {
				return 0, fmt.Errorf("installment %d is referenced by allocation %d", id, a.ID)
			}
		}
	}
	n := 0
	for _, id := range ids {
		if _, ok := m.db.Installments[id]; ok {
			delete(m.db.Installments, id)
			n++
		}
	}
	return n, nil
}

// Totals sums amount and remaining over every installment
func (m *MockInstallmentRepository) Totals(ctx context.Context) (*domain.InstallmentTotals, error) {
	defer m.db.enter(ctx)()
	totals := &domain.InstallmentTotals{Generated: decimal.Zero, Remaining: decimal.Zero}
	for _, inst := range m.db.Installments {
		totals.Generated = totals.Generated.Add(inst.Amount)
		totals.Remaining = totals.Remaining.Add(inst.RemainingAmount)
	}
	return totals, nil
}

// MockCollectionRepository is a mock implementation of domain.CollectionRepository
type MockCollectionRepository struct {
	db *MockDB
}

// NewMockCollectionRepository creates a new MockCollectionRepository
func NewMockCollectionRepository(db *MockDB) *MockCollectionRepository {
	return &MockCollectionRepository{db: db}
}

// GetByID retrieves a collection with its allocations
func (m *MockCollectionRepository) GetByID(ctx context.Context, id int32) (*domain.Collection, error) {
	defer m.db.enter(ctx)()
	c, ok := m.db.Collections[id]
	if !ok {
		return nil, domain.ErrCollectionNotFound
	}
	out := *c
	out.Allocations = []domain.CollectionAllocation{}
	for _, a := range m.db.Allocations {
		if a.CollectionID == id {
			out.Allocations = append(out.Allocations, a)
		}
	}
	return &out, nil
}

// GetByIDForUpdate retrieves a collection without allocations, taking its row lock under RowLockingTransactor
func (m *MockCollectionRepository) GetByIDForUpdate(ctx context.Context, id int32) (*domain.Collection, error) {
	m.db.lockRows(ctx, fmt.Sprintf("collection:%d", id))

	defer m.db.enter(ctx)()
	if err := m.db.fail("collections.GetByIDForUpdate"); err != nil {
		return nil, err
	}
	c, ok := m.db.Collections[id]
	if !ok {
		return nil, domain.ErrCollectionNotFound
	}
	out := *c
	out.Allocations = nil
	return &out, nil
}

// List returns collections newest first
func (m *MockCollectionRepository) List(ctx context.Context) ([]*domain.Collection, error) {
	defer m.db.enter(ctx)()
	out := make([]*domain.Collection, 0, len(m.db.Collections))
	for _, c := range m.db.Collections {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Create inserts a collection without allocations
func (m *MockCollectionRepository) Create(ctx context.Context, collection *domain.Collection) (*domain.Collection, error) {
	defer m.db.enter(ctx)()
	if err := m.db.fail("collections.Create"); err != nil {
		return nil, err
	}
	c := *collection
	c.ID = m.db.id()
	c.Allocations = nil
	c.CreatedAt = m.db.now
	c.UpdatedAt = m.db.now
	m.db.Collections[c.ID] = &c
	out := c
	return &out, nil
}

// Update overwrites a collection's fields
func (m *MockCollectionRepository) Update(ctx context.Context, collection *domain.Collection) (*domain.Collection, error) {
	defer m.db.enter(ctx)()
	if err := m.db.fail("collections.Update"); err != nil {
		return nil, err
	}
	existing, ok := m.db.Collections[collection.ID]
	if !ok {
		return nil, domain.ErrCollectionNotFound
	}
	c := *collection
	c.Allocations = nil
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.db.now
	m.db.Collections[c.ID] = &c
	out := c
	return &out, nil
}

// Delete removes a collection and its allocations
func (m *MockCollectionRepository) Delete(ctx context.Context, id int32) error {
	defer m.db.enter(ctx)()
	if err := m.db.fail("collections.Delete"); err != nil {
		return err
	}
	if _, ok := m.db.Collections[id]; !ok {
		return domain.ErrCollectionNotFound
	}
	delete(m.db.Collections, id)
	m.db.Allocations = m.withoutAllocationsOf(id)
	return nil
}

func (m *MockCollectionRepository) withoutAllocationsOf(collectionID int32) []domain.CollectionAllocation {
	kept := m.db.Allocations[:0:0]
	for _, a := range m.db.Allocations {
		if a.CollectionID != collectionID {
			kept = append(kept, a)
		}
	}
	return kept
}

// CreateAllocations inserts allocations
func (m *MockCollectionRepository) CreateAllocations(ctx context.Context, allocations []domain.CollectionAllocation) error {
	defer m.db.enter(ctx)()
	if err := m.db.fail("collections.CreateAllocations"); err != nil {
		return err
	}
	for _, a := range allocations {
		if _, ok := m.db.Installments[a.InstallmentID]; !ok {
			return fmt.Errorf("allocation references unknown installment %d", a.InstallmentID)
		}
		a.ID = m.db.id()
		m.db.Allocations = append(m.db.Allocations, a)
	}
	return nil
}

// DeleteAllocations removes every allocation of a collection
func (m *MockCollectionRepository) DeleteAllocations(ctx context.Context, collectionID int32) error {
	defer m.db.enter(ctx)()
	if err := m.db.fail("collections.DeleteAllocations"); err != nil {
		return err
	}
	m.db.Allocations = m.withoutAllocationsOf(collectionID)
	return nil
}

// CountAllocatedInstallments counts installments with at least one allocation
func (m *MockCollectionRepository) CountAllocatedInstallments(ctx context.Context, installmentIDs []int32) (int, error) {
	defer m.db.enter(ctx)()
	wanted := make(map[int32]bool, len(installmentIDs))
	for _, id := range installmentIDs {
		wanted[id] = true
	}
	seen := make(map[int32]bool)
	for _, a := range m.db.Allocations {
		if wanted[a.InstallmentID] {
			seen[a.InstallmentID] = true
		}
	}
	return len(seen), nil
}

// CreditByGroups returns unapplied collection amounts per group
func (m *MockCollectionRepository) CreditByGroups(ctx context.Context, groupIDs []int32) (map[int32]decimal.Decimal, error) {
	defer m.db.enter(ctx)()
	if err := m.db.fail("collections.CreditByGroups"); err != nil {
		return nil, err
	}
	wanted := make(map[int32]bool, len(groupIDs))
	for _, id := range groupIDs {
		wanted[id] = true
	}
	applied := make(map[int32]decimal.Decimal)
	for _, a := range m.db.Allocations {
		applied[a.CollectionID] = applied[a.CollectionID].Add(a.AppliedAmount)
	}
	out := make(map[int32]decimal.Decimal)
	for _, c := range m.db.Collections {
		if !wanted[c.BillingGroupID] {
			continue
		}
		out[c.BillingGroupID] = out[c.BillingGroupID].Add(c.Amount.Sub(applied[c.ID]))
	}
	return out, nil
}

// TotalAmount sums every collection
func (m *MockCollectionRepository) TotalAmount(ctx context.Context) (decimal.Decimal, error) {
	defer m.db.enter(ctx)()
	total := decimal.Zero
	for _, c := range m.db.Collections {
		total = total.Add(c.Amount)
	}
	return total, nil
}

// MockStore bundles a MockDB with every repository over it
type MockStore struct {
	DB           *MockDB
	Tx           *MockTransactor
	Units        *MockUnitRepository
	DuesTypes    *MockDuesTypeRepository
	Groups       *MockBillingGroupRepository
	Installments *MockInstallmentRepository
	Collections  *MockCollectionRepository
}

// NewMockStore creates an empty MockStore
func NewMockStore() *MockStore {
	db := NewMockDB()
	return &MockStore{
		DB:           db,
		Tx:           NewMockTransactor(db),
		Units:        NewMockUnitRepository(db),
		DuesTypes:    NewMockDuesTypeRepository(db),
		Groups:       NewMockBillingGroupRepository(db),
		Installments: NewMockInstallmentRepository(db),
		Collections:  NewMockCollectionRepository(db),
	}
}

// RecordingPublisher is a websocket.EventPublisher that keeps published events
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []websocket.Event
}

// Publish records the event
func (p *RecordingPublisher) Publish(event websocket.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, event)
}

// Types returns the types of the recorded events in order
func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.Events))
	for i, e := range p.Events {
		types[i] = e.Type
	}
	return types
}
