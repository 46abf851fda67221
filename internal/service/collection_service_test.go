package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionService_Create_AllocatesOldestFirst(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	older := f.addInstallment(group.ID, nil, "2024-2025", 12000)
	newer := f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.collectionService()

	collection, err := svc.Create(context.Background(), pay(group.ID, 15000))

	require.NoError(t, err)
	requireRemaining(t, f, older.ID, "0.00", domain.InstallmentStatusPaid)
	requireRemaining(t, f, newer.ID, "9000.00", domain.InstallmentStatusPartiallyPaid)

	require.Len(t, collection.Allocations, 2)
	assert.Equal(t, older.ID, collection.Allocations[0].InstallmentID)
	assert.Equal(t, "12000.00", collection.Allocations[0].AppliedAmount.StringFixed(2))
	assert.Equal(t, "3000.00", collection.Allocations[1].AppliedAmount.StringFixed(2))
	assert.Equal(t, "15000.00", collection.AllocatedAmount().StringFixed(2))
	assert.True(t, collection.Credit().IsZero())
	assert.Equal(t, []string{"collection.created"}, f.publisher.Types())
}

func TestCollectionService_Update_ReallocatesFromScratch(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	older := f.addInstallment(group.ID, nil, "2024-2025", 12000)
	newer := f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.collectionService()

	created, err := svc.Create(context.Background(), pay(group.ID, 15000))
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, pay(group.ID, 12000))

	require.NoError(t, err)
	requireRemaining(t, f, older.ID, "0.00", domain.InstallmentStatusPaid)
	requireRemaining(t, f, newer.ID, "12000.00", domain.InstallmentStatusOpen)
	require.Len(t, updated.Allocations, 1)
	assert.Equal(t, older.ID, updated.Allocations[0].InstallmentID)
	assert.Len(t, f.store.DB.AllocationsOf(created.ID), 1)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
}

func TestCollectionService_Update_SurplusBecomesCredit(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	f.addInstallment(group.ID, nil, "2024-2025", 12000)
	f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.collectionService()

	created, err := svc.Create(context.Background(), pay(group.ID, 15000))
	require.NoError(t, err)
	updated, err := svc.Update(context.Background(), created.ID, pay(group.ID, 30000))
	require.NoError(t, err)

	assert.Equal(t, "6000.00", updated.Credit().StringFixed(2))
	credit, err := svc.GroupCredit(context.Background(), group.ID)
	require.NoError(t, err)
	assert.Equal(t, "6000.00", credit.StringFixed(2))
}

func TestCollectionService_Update_MovesToAnotherGroup(t *testing.T) {
	f := newFixture()
	first := f.store.DB.AddBillingGroup("First", f.large.ID, false, "2025-2026", f.a1.ID)
	second := f.store.DB.AddBillingGroup("Second", f.small.ID, false, "2025-2026", f.a2.ID)
	firstInst := f.addInstallment(first.ID, &f.a1.ID, "2025-2026", 12000)
	secondInst := f.addInstallment(second.ID, &f.a2.ID, "2025-2026", 9000)
	svc := f.collectionService()

	created, err := svc.Create(context.Background(), pay(first.ID, 5000))
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, pay(second.ID, 5000))

	require.NoError(t, err)
	requireRemaining(t, f, firstInst.ID, "12000.00", domain.InstallmentStatusOpen)
	requireRemaining(t, f, secondInst.ID, "4000.00", domain.InstallmentStatusPartiallyPaid)
	lastLock := f.store.DB.LockCalls[len(f.store.DB.LockCalls)-1]
	assert.ElementsMatch(t, []int32{first.ID, second.ID}, lastLock)
	assert.True(t, f.publisher.Events[1].Touches(first.ID))
	assert.True(t, f.publisher.Events[1].Touches(second.ID))
}

func TestCollectionService_Delete_RestoresInstallments(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	older := f.addInstallment(group.ID, nil, "2024-2025", 12000)
	newer := f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.collectionService()

	created, err := svc.Create(context.Background(), pay(group.ID, 15000))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID))

	requireRemaining(t, f, older.ID, "12000.00", domain.InstallmentStatusOpen)
	requireRemaining(t, f, newer.ID, "12000.00", domain.InstallmentStatusOpen)
	assert.Empty(t, f.store.DB.AllocationsOf(created.ID))
	_, err = svc.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
	assert.Equal(t, []string{"collection.created", "collection.deleted"}, f.publisher.Types())
}

func TestCollectionService_Delete_NotFound(t *testing.T) {
	f := newFixture()

	err := f.collectionService().Delete(context.Background(), 404)

	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestCollectionService_Create_Validation(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1", f.large.ID, false, "2025-2026", f.a1.ID)
	empty := f.store.DB.AddBillingGroup("Empty", f.large.ID, true, "2025-2026")
	f.addInstallment(group.ID, &f.a1.ID, "2025-2026", 12000)
	svc := f.collectionService()

	tests := []struct {
		name    string
		input   func() domain.CollectionInput
		wantErr error
	}{
		{
			name:    "zero amount",
			input:   func() domain.CollectionInput { return pay(group.ID, 0) },
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name: "negative amount",
			input: func() domain.CollectionInput {
				in := pay(group.ID, 1)
				in.Amount = decimal.NewFromInt(-100)
				return in
			},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name: "unit outside group",
			input: func() domain.CollectionInput {
				in := pay(group.ID, 100)
				in.UnitID = &f.a2.ID
				return in
			},
			wantErr: domain.ErrUnitNotInGroup,
		},
		{
			name:    "group without units",
			input:   func() domain.CollectionInput { return pay(empty.ID, 100) },
			wantErr: domain.ErrGroupHasNoUnits,
		},
		{
			name:    "unknown group",
			input:   func() domain.CollectionInput { return pay(999, 100) },
			wantErr: domain.ErrBillingGroupNotFound,
		},
		{
			name: "unknown channel",
			input: func() domain.CollectionInput {
				in := pay(group.ID, 100)
				in.PaymentChannel = "card"
				return in
			},
			wantErr: domain.ErrInvalidPaymentChannel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.input())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	collections, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, collections)
	assert.Empty(t, f.publisher.Events)
}

func TestCollectionService_Create_RepresentativeUnit(t *testing.T) {
	f := newFixture()
	blockB := f.store.DB.AddBlock("B")
	b1 := f.store.DB.AddUnit(blockB.ID, "1")
	// Member order is deliberately not label order
	group := f.store.DB.AddBillingGroup("Mixed", f.large.ID, true, "2025-2026", b1.ID, f.a2.ID, f.a1.ID)
	svc := f.collectionService()

	collection, err := svc.Create(context.Background(), pay(group.ID, 100))

	require.NoError(t, err)
	assert.Equal(t, f.a1.ID, collection.UnitID)
}

func TestCollectionService_Create_ExplicitUnitKept(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2025-2026", f.a1.ID, f.a2.ID)
	svc := f.collectionService()

	in := pay(group.ID, 100)
	in.UnitID = &f.a2.ID
	collection, err := svc.Create(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, f.a2.ID, collection.UnitID)
	assert.Empty(t, collection.Allocations)
	assert.Equal(t, "100.00", collection.Credit().StringFixed(2))
}

func TestCollectionService_Create_IsAtomic(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	older := f.addInstallment(group.ID, nil, "2024-2025", 12000)
	newer := f.addInstallment(group.ID, nil, "2025-2026", 12000)
	f.store.DB.FailOn["collections.CreateAllocations"] = errors.New("connection reset")
	svc := f.collectionService()

	_, err := svc.Create(context.Background(), pay(group.ID, 15000))

	require.Error(t, err)
	requireRemaining(t, f, older.ID, "12000.00", domain.InstallmentStatusOpen)
	requireRemaining(t, f, newer.ID, "12000.00", domain.InstallmentStatusOpen)
	collections, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, collections)
	assert.Equal(t, 1, f.store.Tx.Rollbacks)
	assert.Empty(t, f.publisher.Events)
}

func TestCollectionService_Update_IsAtomic(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	older := f.addInstallment(group.ID, nil, "2024-2025", 12000)
	newer := f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.collectionService()

	created, err := svc.Create(context.Background(), pay(group.ID, 15000))
	require.NoError(t, err)

	f.store.DB.FailOn["collections.Update"] = errors.New("statement timeout")
	_, err = svc.Update(context.Background(), created.ID, pay(group.ID, 1000))

	require.Error(t, err)
	requireRemaining(t, f, older.ID, "0.00", domain.InstallmentStatusPaid)
	requireRemaining(t, f, newer.ID, "9000.00", domain.InstallmentStatusPartiallyPaid)
	assert.Len(t, f.store.DB.AllocationsOf(created.ID), 2)
	stored, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "15000.00", stored.Amount.StringFixed(2))
}

func TestCollectionService_ConcurrentPaymentsOnSameGroup(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2025-2026", f.a1.ID, f.a2.ID)
	inst := f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.collectionService()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), pay(group.ID, 1500))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 10 x 1500 against 12000: the last payments find nothing left to absorb
	requireRemaining(t, f, inst.ID, "0.00", domain.InstallmentStatusPaid)
	credit, err := svc.GroupCredit(context.Background(), group.ID)
	require.NoError(t, err)
	assert.Equal(t, "3000.00", credit.StringFixed(2))
}

// rowLockedCollectionService runs transactions concurrently, serialized only by row locks
func (f *fixture) rowLockedCollectionService() *CollectionService {
	s := f.store
	return NewCollectionService(testutil.NewRowLockingTransactor(s.DB), s.Collections, s.Groups, s.Units, s.Installments, nil)
}

// requireLedgerConsistent checks every installment of the group against the allocations stored for it
func requireLedgerConsistent(t *testing.T, f *fixture, groupID int32, collectionIDs ...int32) {
	t.Helper()
	applied := make(map[int32]decimal.Decimal)
	for _, id := range collectionIDs {
		for _, a := range f.store.DB.AllocationsOf(id) {
			applied[a.InstallmentID] = applied[a.InstallmentID].Add(a.AppliedAmount)
		}
	}
	for _, inst := range f.store.DB.InstallmentsOf(groupID) {
		require.True(t, inst.RemainingAmount.GreaterThanOrEqual(decimal.Zero), "installment %d remaining below zero", inst.ID)
		require.True(t, inst.RemainingAmount.LessThanOrEqual(inst.Amount), "installment %d remaining %s above amount %s",
			inst.ID, inst.RemainingAmount.StringFixed(2), inst.Amount.StringFixed(2))
		require.Equal(t, inst.Amount.Sub(inst.RemainingAmount).StringFixed(2), applied[inst.ID].StringFixed(2),
			"installment %d paid part vs allocations", inst.ID)
		require.Equal(t, domain.DeriveStatus(inst.Amount, inst.RemainingAmount), inst.Status, "installment %d status", inst.ID)
	}
}

func TestCollectionService_ConcurrentUpdatesOfSameCollection(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	f.addInstallment(group.ID, nil, "2024-2025", 12000)
	f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.rowLockedCollectionService()

	created, err := svc.Create(context.Background(), pay(group.ID, 15000))
	require.NoError(t, err)

	amounts := []int64{12000, 10000, 15000, 3000, 24000, 9000}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Update(context.Background(), created.ID, pay(group.ID, amounts[i%len(amounts)]))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	requireLedgerConsistent(t, f, group.ID, created.ID)
	final, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, decimal.Min(final.Amount, decimal.NewFromInt(24000)).StringFixed(2), final.AllocatedAmount().StringFixed(2))
}

func TestCollectionService_ConcurrentUpdateAndDelete(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	older := f.addInstallment(group.ID, nil, "2024-2025", 12000)
	newer := f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.rowLockedCollectionService()

	created, err := svc.Create(context.Background(), pay(group.ID, 15000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Update(context.Background(), created.ID, pay(group.ID, 10000+int64(i)*1000))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Delete(context.Background(), created.ID))
	}()
	wg.Wait()

	assert.Empty(t, f.store.DB.AllocationsOf(created.ID))
	requireRemaining(t, f, older.ID, "12000.00", domain.InstallmentStatusOpen)
	requireRemaining(t, f, newer.ID, "12000.00", domain.InstallmentStatusOpen)
}

func TestCollectionService_Update_WaitsForCollectionRowLock(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1-A2", f.large.ID, true, "2024-2025", f.a1.ID, f.a2.ID)
	older := f.addInstallment(group.ID, nil, "2024-2025", 12000)
	newer := f.addInstallment(group.ID, nil, "2025-2026", 12000)
	svc := f.rowLockedCollectionService()
	tx := testutil.NewRowLockingTransactor(f.store.DB)

	created, err := svc.Create(context.Background(), pay(group.ID, 15000))
	require.NoError(t, err)

	locked := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- tx.WithinTx(context.Background(), func(ctx context.Context) error {
			if _, err := f.store.Collections.GetByIDForUpdate(ctx, created.ID); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	var done sync.WaitGroup
	var finished bool
	var mu sync.Mutex
	done.Add(1)
	go func() {
		defer done.Done()
		_, err := svc.Update(context.Background(), created.ID, pay(group.ID, 12000))
		assert.NoError(t, err)
		mu.Lock()
		finished = true
		mu.Unlock()
	}()

	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return finished
	}, 50*time.Millisecond, 5*time.Millisecond)
	requireRemaining(t, f, newer.ID, "9000.00", domain.InstallmentStatusPartiallyPaid)

	close(release)
	require.NoError(t, <-holder)
	done.Wait()

	requireRemaining(t, f, older.ID, "0.00", domain.InstallmentStatusPaid)
	requireRemaining(t, f, newer.ID, "12000.00", domain.InstallmentStatusOpen)
	requireLedgerConsistent(t, f, group.ID, created.ID)
}

func TestCollectionService_List_NewestFirst(t *testing.T) {
	f := newFixture()
	group := f.store.DB.AddBillingGroup("A1", f.large.ID, false, "2025-2026", f.a1.ID)
	svc := f.collectionService()

	early := pay(group.ID, 100)
	early.Date = early.Date.AddDate(0, -1, 0)
	first, err := svc.Create(context.Background(), early)
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), pay(group.ID, 100))
	require.NoError(t, err)
	third, err := svc.Create(context.Background(), pay(group.ID, 100))
	require.NoError(t, err)

	collections, err := svc.List(context.Background())

	require.NoError(t, err)
	require.Len(t, collections, 3)
	assert.Equal(t, []int32{third.ID, second.ID, first.ID}, []int32{collections[0].ID, collections[1].ID, collections[2].ID})
}
