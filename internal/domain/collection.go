package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrCollectionNotFound         = errors.New("collection not found")
	ErrBillingGroupNotFound       = errors.New("billing group not found")
	ErrInvalidPaymentChannel      = errors.New("payment channel must be cash or bank")
	ErrCollectionReferenceTooLong = errors.New("reference number must be 80 characters or less")
	ErrCollectionNoteTooLong      = errors.New("note must be 250 characters or less")
)

type PaymentChannel string

const (
	PaymentChannelCash PaymentChannel = "cash"
	PaymentChannelBank PaymentChannel = "bank"
)

// Valid reports whether the channel is known.
func (c PaymentChannel) Valid() bool {
	return c == PaymentChannelCash || c == PaymentChannelBank
}

// Collection is a payment received for a billing group.
type Collection struct {
	ID             int32                  `json:"id"`
	BillingGroupID int32                  `json:"billingGroupId"`
	UnitID         int32                  `json:"unitId"`
	Date           time.Time              `json:"date"`
	Amount         decimal.Decimal        `json:"amount"`
	PaymentChannel PaymentChannel         `json:"paymentChannel"`
	ReferenceNo    *string                `json:"referenceNo,omitempty"`
	Note           *string                `json:"note,omitempty"`
	Allocations    []CollectionAllocation `json:"allocations"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// AllocatedAmount sums the amounts applied to installments.
func (c *Collection) AllocatedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, a := range c.Allocations {
		total = total.Add(a.AppliedAmount)
	}
	return total
}

// Credit is the part of the payment no installment absorbed.
func (c *Collection) Credit() decimal.Decimal {
	return c.Amount.Sub(c.AllocatedAmount())
}

// CollectionAllocation records how much of a collection was applied to an installment.
type CollectionAllocation struct {
	ID            int32           `json:"id"`
	CollectionID  int32           `json:"collectionId"`
	InstallmentID int32           `json:"installmentId"`
	AppliedAmount decimal.Decimal `json:"appliedAmount"`
}

// CollectionInput is the payload for recording or editing a collection.
// A nil UnitID asks for the group's representative unit.
type CollectionInput struct {
	BillingGroupID int32
	UnitID         *int32
	Date           time.Time
	Amount         decimal.Decimal
	PaymentChannel PaymentChannel
	ReferenceNo    *string
	Note           *string
}

// MoneyScale is the number of fractional digits stored for amounts.
const MoneyScale = 2

// ValidMoneyAmount reports whether d is positive and needs no rounding to MoneyScale digits.
func ValidMoneyAmount(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero) && d.Equal(d.Truncate(MoneyScale))
}

// Validate checks the fields that need no lookups.
func (in *CollectionInput) Validate() error {
	if !ValidMoneyAmount(in.Amount) {
		return ErrInvalidAmount
	}
	if !in.PaymentChannel.Valid() {
		return ErrInvalidPaymentChannel
	}
	if in.ReferenceNo != nil && len(*in.ReferenceNo) > MaxReferenceLength {
		return ErrCollectionReferenceTooLong
	}
	if in.Note != nil && len(*in.Note) > MaxNoteLength {
		return ErrCollectionNoteTooLong
	}
	return nil
}

type CollectionRepository interface {
	// GetByID returns the collection with its allocations.
	GetByID(ctx context.Context, id int32) (*Collection, error)
	// GetByIDForUpdate locks the collection row for the rest of the transaction. Allocations are not loaded.
	GetByIDForUpdate(ctx context.Context, id int32) (*Collection, error)
	// List returns collections ordered by date then id, newest first, without allocations.
	List(ctx context.Context) ([]*Collection, error)
	Create(ctx context.Context, collection *Collection) (*Collection, error)
	Update(ctx context.Context, collection *Collection) (*Collection, error)
	Delete(ctx context.Context, id int32) error
	CreateAllocations(ctx context.Context, allocations []CollectionAllocation) error
	DeleteAllocations(ctx context.Context, collectionID int32) error
	// CountAllocatedInstallments counts how many of the installments have at least one allocation.
	CountAllocatedInstallments(ctx context.Context, installmentIDs []int32) (int, error)
	// CreditByGroups returns sum(amount) - sum(applied) per billing group.
	CreditByGroups(ctx context.Context, groupIDs []int32) (map[int32]decimal.Decimal, error)
	TotalAmount(ctx context.Context) (decimal.Decimal, error)
}
