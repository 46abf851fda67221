package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternalError    = errors.New("internal error")
	ErrNameRequired     = errors.New("name is required")
	ErrNameTooLong      = errors.New("name exceeds maximum length")
	ErrTransientFailure = errors.New("temporary storage failure, please retry")
	ErrUnitNotFound     = errors.New("unit not found")
	ErrDuesTypeNotFound = errors.New("dues type not found")
	ErrNoUnitsSelected  = errors.New("at least one unit must be selected")
)

// Billing errors
var (
	ErrInvalidPeriodFormat           = errors.New("period must be in YYYY-YYYY format and the second year must follow the first")
	ErrInvalidAmount                 = errors.New("amount must be greater than zero with at most 2 decimal places")
	ErrUnitNotInGroup                = errors.New("selected unit does not belong to the selected billing group")
	ErrGroupHasNoUnits               = errors.New("billing group has no units")
	ErrUnsplittableLegacyInstallment = errors.New("legacy installment with applied payments cannot be split per unit")
	ErrPeriodHasAllocatedPayments    = errors.New("period has installments with applied payments")
	ErrDuplicateInstallment          = errors.New("installment already exists for billing group, period and unit")
)

// Validation constants
const (
	MaxNameLength      = 120
	MaxReferenceLength = 80
	MaxNoteLength      = 250
)

// UnsplittableInstallmentError names the legacy installment that blocked generation.
type UnsplittableInstallmentError struct {
	InstallmentID    int32
	BillingGroupID   int32
	BillingGroupName string
	Period           string
}

func (e *UnsplittableInstallmentError) Error() string {
	return fmt.Sprintf("period %s: billing group %q has a legacy installment (id %d) with applied payments; clear it manually before generating",
		e.Period, e.BillingGroupName, e.InstallmentID)
}

func (e *UnsplittableInstallmentError) Unwrap() error {
	return ErrUnsplittableLegacyInstallment
}

// PeriodConflictError reports why a period-level delete was refused.
type PeriodConflictError struct {
	Period                string
	AllocatedInstallments int
}

func (e *PeriodConflictError) Error() string {
	return fmt.Sprintf("period %s has %d installment(s) with applied payments; delete or edit those collections first",
		e.Period, e.AllocatedInstallments)
}

func (e *PeriodConflictError) Unwrap() error {
	return ErrPeriodHasAllocatedPayments
}

// IsBusinessRuleError reports whether err is a user-correctable billing rule violation.
func IsBusinessRuleError(err error) bool {
	return errors.Is(err, ErrInvalidPeriodFormat) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnitNotInGroup) ||
		errors.Is(err, ErrGroupHasNoUnits) ||
		errors.Is(err, ErrUnsplittableLegacyInstallment) ||
		errors.Is(err, ErrPeriodHasAllocatedPayments) ||
		errors.Is(err, ErrDuplicateInstallment)
}
