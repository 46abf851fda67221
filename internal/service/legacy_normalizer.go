package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/rs/zerolog/log"
)

// NormalizationResult counts what a normalization pass changed.
type NormalizationResult struct {
	Normalized   int
	SplitCreated int
}

// LegacyNormalizer converts group-level installments of non-merged groups into per-unit
// installments. Running it twice for the same period changes nothing the second time.
// It must run inside the caller's transaction.
type LegacyNormalizer struct {
	groupRepo       domain.BillingGroupRepository
	unitRepo        domain.UnitRepository
	installmentRepo domain.InstallmentRepository
	collectionRepo  domain.CollectionRepository
}

// NewLegacyNormalizer creates a new LegacyNormalizer
func NewLegacyNormalizer(groupRepo domain.BillingGroupRepository, unitRepo domain.UnitRepository, installmentRepo domain.InstallmentRepository, collectionRepo domain.CollectionRepository) *LegacyNormalizer {
	return &LegacyNormalizer{
		groupRepo:       groupRepo,
		unitRepo:        unitRepo,
		installmentRepo: installmentRepo,
		collectionRepo:  collectionRepo,
	}
}

// Normalize rewrites the legacy installments of period.
//
// A legacy row of a group with a single unit is stamped with that unit. With several units the
// row goes to the first unit (block name, unit number) and a sibling with the same balance is
// created for each other unit. Units that already own a row for the period are left alone.
// A legacy row that already has payments applied cannot be split and fails the whole pass
// with *domain.UnsplittableInstallmentError.
func (n *LegacyNormalizer) Normalize(ctx context.Context, period string) (*NormalizationResult, error) {
	periodKey, err := domain.PeriodKey(period)
	if err != nil {
		return nil, err
	}

	legacy, err := n.installmentRepo.ListLegacyUnsplit(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("list legacy installments: %w", err)
	}
	result := &NormalizationResult{}
	if len(legacy) == 0 {
		return result, nil
	}

	groupIDs := make([]int32, 0, len(legacy))
	for _, inst := range legacy {
		groupIDs = append(groupIDs, inst.BillingGroupID)
	}
	if err := n.groupRepo.Lock(ctx, groupIDs...); err != nil {
		return nil, err
	}
	groups, err := n.groupRepo.GetByIDs(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("load billing groups: %w", err)
	}

	for _, inst := range legacy {
		group, ok := groups[inst.BillingGroupID]
		if !ok {
			continue
		}
		if err := n.normalizeOne(ctx, inst, group, periodKey, result); err != nil {
			return nil, err
		}
	}

	if result.Normalized > 0 {
		log.Info().
			Str("period", period).
			Int("normalized", result.Normalized).
			Int("split_created", result.SplitCreated).
			Msg("Normalized legacy installments")
	}
	return result, nil
}

func (n *LegacyNormalizer) normalizeOne(ctx context.Context, inst *domain.DuesInstallment, group *domain.BillingGroup, periodKey int, result *NormalizationResult) error {
	memberIDs := group.UnitIDsFor(periodKey)
	labels, err := n.unitRepo.GetLabels(ctx, memberIDs)
	if err != nil {
		return fmt.Errorf("load unit labels: %w", err)
	}
	units := domain.SortedLabels(memberIDs, labels)
	if len(units) == 0 {
		log.Warn().
			Int32("installment_id", inst.ID).
			Int32("billing_group_id", group.ID).
			Msg("Legacy installment left as is, group has no units for the period")
		return nil
	}

	allocated, err := n.collectionRepo.CountAllocatedInstallments(ctx, []int32{inst.ID})
	if err != nil {
		return fmt.Errorf("count allocations: %w", err)
	}
	unsplittable := &domain.UnsplittableInstallmentError{
		InstallmentID:    inst.ID,
		BillingGroupID:   group.ID,
		BillingGroupName: group.Name,
		Period:           inst.Period,
	}
	if len(units) > 1 && allocated > 0 {
		return unsplittable
	}

	free := make([]int32, 0, len(units))
	for _, u := range units {
		unitID := u.UnitID
		exists, err := n.installmentRepo.Exists(ctx, group.ID, inst.Period, &unitID)
		if err != nil {
			return fmt.Errorf("check unit installment: %w", err)
		}
		if !exists {
			free = append(free, unitID)
		}
	}

	if len(free) == 0 {
		// Every unit already owns its row; the legacy row is a leftover duplicate.
		if allocated > 0 {
			return unsplittable
		}
		if _, err := n.installmentRepo.DeleteByIDs(ctx, []int32{inst.ID}); err != nil {
			return fmt.Errorf("delete redundant legacy installment %d: %w", inst.ID, err)
		}
		result.Normalized++
		return nil
	}

	if err := n.installmentRepo.AssignUnit(ctx, inst.ID, free[0]); err != nil {
		return fmt.Errorf("assign unit to installment %d: %w", inst.ID, err)
	}
	result.Normalized++

	for _, unitID := range free[1:] {
		sibling := &domain.DuesInstallment{
			BillingGroupID:  inst.BillingGroupID,
			UnitID:          &unitID,
			Period:          inst.Period,
			DueDate:         inst.DueDate,
			Amount:          inst.Amount,
			RemainingAmount: inst.RemainingAmount,
			Status:          domain.DeriveStatus(inst.Amount, inst.RemainingAmount),
		}
		if _, err := n.installmentRepo.Create(ctx, sibling); err != nil {
			if errors.Is(err, domain.ErrDuplicateInstallment) {
				continue
			}
			return fmt.Errorf("create split installment: %w", err)
		}
		result.SplitCreated++
	}
	return nil
}
