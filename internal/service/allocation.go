package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/shopspring/decimal"
)

// sortOldestFirst orders installments by period, then due date, then id.
func sortOldestFirst(installments []*domain.DuesInstallment) {
	sort.SliceStable(installments, func(i, j int) bool {
		a, b := installments[i], installments[j]
		if a.Period != b.Period {
			ak, aerr := domain.PeriodKey(a.Period)
			bk, berr := domain.PeriodKey(b.Period)
			if aerr == nil && berr == nil {
				return ak < bk
			}
			return a.Period < b.Period
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.ID < b.ID
	})
}

// allocateOldestFirst spends budget across installments oldest first, mutating their balances.
// It returns the allocations made and the installments it touched, in order.
func allocateOldestFirst(collectionID int32, budget decimal.Decimal, installments []*domain.DuesInstallment) ([]domain.CollectionAllocation, []*domain.DuesInstallment) {
	sortOldestFirst(installments)

	var allocations []domain.CollectionAllocation
	var touched []*domain.DuesInstallment
	for _, inst := range installments {
		if budget.LessThanOrEqual(decimal.Zero) {
			break
		}
		applied := inst.Apply(budget)
		if applied.IsZero() {
			continue
		}
		budget = budget.Sub(applied)
		allocations = append(allocations, domain.CollectionAllocation{
			CollectionID:  collectionID,
			InstallmentID: inst.ID,
			AppliedAmount: applied,
		})
		touched = append(touched, inst)
	}
	return allocations, touched
}

// ledger bundles the repositories the allocation routines write to.
type ledger struct {
	installmentRepo domain.InstallmentRepository
	collectionRepo  domain.CollectionRepository
}

// rollback gives every allocation of the collection back to its installment and deletes the allocations.
func (l ledger) rollback(ctx context.Context, collection *domain.Collection) error {
	if len(collection.Allocations) == 0 {
		return nil
	}

	ids := make([]int32, 0, len(collection.Allocations))
	for _, a := range collection.Allocations {
		ids = append(ids, a.InstallmentID)
	}
	installments, err := l.installmentRepo.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load allocated installments: %w", err)
	}

	var touched []*domain.DuesInstallment
	seen := make(map[int32]bool, len(installments))
	for _, a := range collection.Allocations {
		inst, ok := installments[a.InstallmentID]
		if !ok {
			return fmt.Errorf("allocation %d references missing installment %d: %w", a.ID, a.InstallmentID, domain.ErrNotFound)
		}
		inst.Restore(a.AppliedAmount)
		if !seen[inst.ID] {
			seen[inst.ID] = true
			touched = append(touched, inst)
		}
	}

	for _, inst := range touched {
		if err := l.installmentRepo.UpdateBalance(ctx, inst); err != nil {
			return fmt.Errorf("restore installment %d: %w", inst.ID, err)
		}
	}
	if err := l.collectionRepo.DeleteAllocations(ctx, collection.ID); err != nil {
		return fmt.Errorf("delete allocations of collection %d: %w", collection.ID, err)
	}
	collection.Allocations = nil
	return nil
}

// allocate applies the collection to its group's open installments and persists the result.
func (l ledger) allocate(ctx context.Context, collection *domain.Collection) error {
	open, err := l.installmentRepo.ListOpenByGroup(ctx, collection.BillingGroupID)
	if err != nil {
		return fmt.Errorf("load open installments: %w", err)
	}

	allocations, touched := allocateOldestFirst(collection.ID, collection.Amount, open)
	for _, inst := range touched {
		if err := l.installmentRepo.UpdateBalance(ctx, inst); err != nil {
			return fmt.Errorf("apply to installment %d: %w", inst.ID, err)
		}
	}
	if len(allocations) > 0 {
		if err := l.collectionRepo.CreateAllocations(ctx, allocations); err != nil {
			return fmt.Errorf("record allocations: %w", err)
		}
	}
	collection.Allocations = allocations
	return nil
}
