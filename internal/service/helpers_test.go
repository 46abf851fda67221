package service

import (
	"testing"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fixture seeds block "A" with units A-1 and A-2 and two dues types
type fixture struct {
	store     *testutil.MockStore
	publisher *testutil.RecordingPublisher
	blockA    *domain.Block
	a1, a2    *domain.Unit
	small     *domain.DuesType
	large     *domain.DuesType
}

func newFixture() *fixture {
	store := testutil.NewMockStore()
	f := &fixture{store: store, publisher: &testutil.RecordingPublisher{}}
	f.blockA = store.DB.AddBlock("A")
	f.a1 = store.DB.AddUnit(f.blockA.ID, "1")
	f.a2 = store.DB.AddUnit(f.blockA.ID, "2")
	f.small = store.DB.AddDuesType("Standard", 9000)
	f.large = store.DB.AddDuesType("Large", 12000)
	return f
}

func (f *fixture) collectionService() *CollectionService {
	s := f.store
	svc := NewCollectionService(s.Tx, s.Collections, s.Groups, s.Units, s.Installments, nil)
	svc.SetEventPublisher(f.publisher)
	return svc
}

func (f *fixture) generationService() *DuesGenerationService {
	s := f.store
	svc := NewDuesGenerationService(s.Tx, s.Groups, s.DuesTypes, s.Units, s.Installments, s.Collections, nil)
	svc.SetEventPublisher(f.publisher)
	return svc
}

func (f *fixture) reportService() *ReportService {
	s := f.store
	return NewReportService(s.Groups, s.DuesTypes, s.Units, s.Installments, s.Collections)
}

func (f *fixture) billingGroupService() *BillingGroupService {
	s := f.store
	return NewBillingGroupService(s.Tx, s.Groups, s.DuesTypes, s.Units)
}

func (f *fixture) dashboardService() *DashboardService {
	s := f.store
	return NewDashboardService(s.Groups, s.Installments, s.Collections)
}

// addInstallment stores an unpaid installment due July 31 of the period's first year
func (f *fixture) addInstallment(groupID int32, unitID *int32, period string, amount int64) *domain.DuesInstallment {
	key, err := domain.PeriodKey(period)
	if err != nil {
		panic(err)
	}
	due := time.Date(key, time.July, 31, 0, 0, 0, 0, time.UTC)
	return f.store.DB.AddInstallment(domain.NewInstallment(groupID, unitID, period, due, decimal.NewFromInt(amount)))
}

func pay(groupID int32, amount int64) domain.CollectionInput {
	return domain.CollectionInput{
		BillingGroupID: groupID,
		Date:           time.Date(2025, time.August, 10, 9, 0, 0, 0, time.UTC),
		Amount:         decimal.NewFromInt(amount),
		PaymentChannel: domain.PaymentChannelBank,
	}
}

func int32Ptr(v int32) *int32 { return &v }

func strPtr(v string) *string { return &v }

func requireRemaining(t *testing.T, f *fixture, id int32, want string, status domain.InstallmentStatus) {
	t.Helper()
	inst := f.store.DB.Installment(id)
	require.NotNil(t, inst, "installment %d", id)
	require.Equal(t, want, inst.RemainingAmount.StringFixed(2), "installment %d remaining", id)
	require.Equal(t, status, inst.Status, "installment %d status", id)
}
