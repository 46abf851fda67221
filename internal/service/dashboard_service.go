package service

import (
	"context"

	"github.com/kumburgaz/dues-backend/internal/domain"
)

// DashboardService handles dashboard-related business logic
type DashboardService struct {
	groupRepo       domain.BillingGroupRepository
	installmentRepo domain.InstallmentRepository
	collectionRepo  domain.CollectionRepository
}

// NewDashboardService creates a new DashboardService
func NewDashboardService(
	groupRepo domain.BillingGroupRepository,
	installmentRepo domain.InstallmentRepository,
	collectionRepo domain.CollectionRepository,
) *DashboardService {
	return &DashboardService{
		groupRepo:       groupRepo,
		installmentRepo: installmentRepo,
		collectionRepo:  collectionRepo,
	}
}

// Summary returns the site-wide ledger totals
func (s *DashboardService) Summary(ctx context.Context) (*domain.DashboardSummary, error) {
	totals, err := s.installmentRepo.Totals(ctx)
	if err != nil {
		return nil, err
	}
	collected, err := s.collectionRepo.TotalAmount(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.groupRepo.CountActive(ctx)
	if err != nil {
		return nil, err
	}

	// Every applied amount is still missing from some installment's remaining balance,
	// so what was collected but never applied is the site's credit.
	applied := totals.Generated.Sub(totals.Remaining)

	return &domain.DashboardSummary{
		TotalDebt:           totals.Remaining,
		TotalGenerated:      totals.Generated,
		TotalCollections:    collected,
		TotalCredit:         collected.Sub(applied),
		ActiveBillingGroups: active,
	}, nil
}
