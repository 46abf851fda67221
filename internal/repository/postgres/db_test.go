package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: codeSerializationFailure}, transient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: codeDeadlockDetected}, transient: true},
		{name: "statement timeout", err: &pgconn.PgError{Code: codeQueryCanceled}, transient: true},
		{name: "wrapped deadlock", err: fmt.Errorf("update balance: %w", &pgconn.PgError{Code: codeDeadlockDetected}), transient: true},
		{name: "unique violation", err: &pgconn.PgError{Code: codeUniqueViolation}, transient: false},
		{name: "plain error", err: errors.New("boom"), transient: false},
		{name: "domain error", err: domain.ErrUnitNotInGroup, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapError(tt.err)
			assert.Equal(t, tt.transient, errors.Is(mapped, domain.ErrTransientFailure))
			assert.ErrorIs(t, mapped, tt.err)
		})
	}

	assert.NoError(t, mapError(nil))
}

func TestMapError_DoesNotWrapTwice(t *testing.T) {
	once := mapError(&pgconn.PgError{Code: codeSerializationFailure})

	assert.Same(t, once, mapError(once))
}

func TestIsPgError(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeForeignKeyViolation})

	assert.True(t, isPgError(err, codeForeignKeyViolation))
	assert.False(t, isPgError(err, codeUniqueViolation))
	assert.False(t, isPgError(errors.New("boom"), codeForeignKeyViolation))
}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "12000.00", "0.01", "-6000.50", "123456789.99"} {
		d := decimal.RequireFromString(s)

		num, err := decimalToPgNumeric(d)
		require.NoError(t, err)

		assert.True(t, d.Equal(pgNumericToDecimal(num)), s)
	}
}

func TestRowLocks_RequireTransaction(t *testing.T) {
	_, err := NewCollectionRepository(nil).GetByIDForUpdate(context.Background(), 1)
	assert.ErrorContains(t, err, "no transaction")

	err = NewBillingGroupRepository(nil).Lock(context.Background(), 1)
	assert.ErrorContains(t, err, "no transaction")
}
