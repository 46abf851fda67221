package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus is derived from amount and remaining amount; it is never set on its own.
type InstallmentStatus string

const (
	InstallmentStatusOpen          InstallmentStatus = "open"
	InstallmentStatusPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentStatusPaid          InstallmentStatus = "paid"
)

// DeriveStatus is the only place that maps an installment balance to a status.
func DeriveStatus(amount, remaining decimal.Decimal) InstallmentStatus {
	if remaining.LessThanOrEqual(decimal.Zero) {
		return InstallmentStatusPaid
	}
	if remaining.LessThan(amount) {
		return InstallmentStatusPartiallyPaid
	}
	return InstallmentStatusOpen
}

// DuesInstallment is one period's charge owed by a billing group, or by one unit of a split group.
type DuesInstallment struct {
	ID              int32             `json:"id"`
	BillingGroupID  int32             `json:"billingGroupId"`
	UnitID          *int32            `json:"unitId,omitempty"`
	Period          string            `json:"period"`
	DueDate         time.Time         `json:"dueDate"`
	Amount          decimal.Decimal   `json:"amount"`
	RemainingAmount decimal.Decimal   `json:"remainingAmount"`
	Status          InstallmentStatus `json:"status"`
}

// NewInstallment builds an unpaid installment.
func NewInstallment(groupID int32, unitID *int32, period string, dueDate time.Time, amount decimal.Decimal) *DuesInstallment {
	return &DuesInstallment{
		BillingGroupID:  groupID,
		UnitID:          unitID,
		Period:          period,
		DueDate:         dueDate,
		Amount:          amount,
		RemainingAmount: amount,
		Status:          DeriveStatus(amount, amount),
	}
}

// Apply takes up to budget from the remaining amount and returns what was taken.
func (i *DuesInstallment) Apply(budget decimal.Decimal) decimal.Decimal {
	if budget.LessThanOrEqual(decimal.Zero) || i.RemainingAmount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	applied := decimal.Min(budget, i.RemainingAmount)
	i.RemainingAmount = i.RemainingAmount.Sub(applied)
	i.Status = DeriveStatus(i.Amount, i.RemainingAmount)
	return applied
}

// Restore gives back an amount that was previously applied.
func (i *DuesInstallment) Restore(applied decimal.Decimal) {
	i.RemainingAmount = i.RemainingAmount.Add(applied)
	i.Status = DeriveStatus(i.Amount, i.RemainingAmount)
}

// SameUnit reports whether the installment belongs to unitID (nil meaning group level).
func (i *DuesInstallment) SameUnit(unitID *int32) bool {
	if i.UnitID == nil || unitID == nil {
		return i.UnitID == nil && unitID == nil
	}
	return *i.UnitID == *unitID
}

// InstallmentFilter narrows installment listings for reporting.
type InstallmentFilter struct {
	Period          *string
	BillingGroupIDs []int32 // empty means any group
}

// InstallmentTotals summarizes the whole installment ledger.
type InstallmentTotals struct {
	Generated decimal.Decimal
	Remaining decimal.Decimal
}

type InstallmentRepository interface {
	GetByIDs(ctx context.Context, ids []int32) (map[int32]*DuesInstallment, error)
	// Create inserts the installment. Returns ErrDuplicateInstallment when (group, period, unit) exists.
	Create(ctx context.Context, installment *DuesInstallment) (*DuesInstallment, error)
	Exists(ctx context.Context, groupID int32, period string, unitID *int32) (bool, error)
	ListByPeriod(ctx context.Context, period string) ([]*DuesInstallment, error)
	// ListLegacyUnsplit returns group-level installments of the period whose group is not merged.
	ListLegacyUnsplit(ctx context.Context, period string) ([]*DuesInstallment, error)
	// ListOpenByGroup returns installments with remaining > 0 ordered by period, due date, id.
	ListOpenByGroup(ctx context.Context, groupID int32) ([]*DuesInstallment, error)
	List(ctx context.Context, filter InstallmentFilter) ([]*DuesInstallment, error)
	AssignUnit(ctx context.Context, id int32, unitID int32) error
	UpdateBalance(ctx context.Context, installment *DuesInstallment) error
	DeleteByIDs(ctx context.Context, ids []int32) (int, error)
	Totals(ctx context.Context) (*InstallmentTotals, error)
}
