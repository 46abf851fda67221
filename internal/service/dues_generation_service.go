package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/observability"
	"github.com/kumburgaz/dues-backend/internal/util"
	"github.com/kumburgaz/dues-backend/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultDuesDueDay is the day of the fiscal year's first month used when no due date is given.
const DefaultDuesDueDay = 31

// DuesGenerationService materializes the installments of a fiscal period
type DuesGenerationService struct {
	tx              domain.Transactor
	groupRepo       domain.BillingGroupRepository
	duesTypeRepo    domain.DuesTypeRepository
	unitRepo        domain.UnitRepository
	installmentRepo domain.InstallmentRepository
	collectionRepo  domain.CollectionRepository
	normalizer      *LegacyNormalizer
	metrics         *observability.Metrics
	eventPublisher  websocket.EventPublisher
	defaultDueDay   int
}

// NewDuesGenerationService creates a new DuesGenerationService
func NewDuesGenerationService(tx domain.Transactor, groupRepo domain.BillingGroupRepository, duesTypeRepo domain.DuesTypeRepository, unitRepo domain.UnitRepository, installmentRepo domain.InstallmentRepository, collectionRepo domain.CollectionRepository, metrics *observability.Metrics) *DuesGenerationService {
	return &DuesGenerationService{
		tx:              tx,
		groupRepo:       groupRepo,
		duesTypeRepo:    duesTypeRepo,
		unitRepo:        unitRepo,
		installmentRepo: installmentRepo,
		collectionRepo:  collectionRepo,
		normalizer:      NewLegacyNormalizer(groupRepo, unitRepo, installmentRepo, collectionRepo),
		metrics:         metrics,
		defaultDueDay:   DefaultDuesDueDay,
	}
}

// SetEventPublisher sets the event publisher for real-time updates
func (s *DuesGenerationService) SetEventPublisher(publisher websocket.EventPublisher) {
	s.eventPublisher = publisher
}

// SetDefaultDueDay sets the day used when Generate is called without a due date
func (s *DuesGenerationService) SetDefaultDueDay(day int) {
	s.defaultDueDay = day
}

func (s *DuesGenerationService) publishEvent(event websocket.Event) {
	if s.eventPublisher != nil {
		s.eventPublisher.Publish(event)
	}
}

// DefaultDueDate returns the due date Generate uses for period when none is given
func (s *DuesGenerationService) DefaultDueDate(period string) (time.Time, error) {
	key, err := domain.PeriodKey(period)
	if err != nil {
		return time.Time{}, err
	}
	return util.DefaultDueDate(key, domain.FiscalYearStartMonth, s.defaultDueDay), nil
}

// eligibleGroups returns the active groups whose window covers the period, ordered by name
func (s *DuesGenerationService) eligibleGroups(ctx context.Context, periodKey int) ([]*domain.BillingGroup, error) {
	groups, err := s.groupRepo.List(ctx, domain.BillingGroupFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list billing groups: %w", err)
	}
	eligible := make([]*domain.BillingGroup, 0, len(groups))
	for _, g := range groups {
		if g.EligibleFor(periodKey) {
			eligible = append(eligible, g)
		}
	}
	return eligible, nil
}

func (s *DuesGenerationService) duesTypesOf(ctx context.Context, groups []*domain.BillingGroup) (map[int32]*domain.DuesType, error) {
	ids := make([]int32, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.DuesTypeID)
	}
	types, err := s.duesTypeRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load dues types: %w", err)
	}
	return types, nil
}

// Preview lists what Generate would bill for period without writing anything
func (s *DuesGenerationService) Preview(ctx context.Context, period string) ([]*domain.DuesGenerationPreviewItem, error) {
	periodKey, err := domain.PeriodKey(period)
	if err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}

	groups, err := s.eligibleGroups(ctx, periodKey)
	if err != nil {
		return nil, err
	}
	duesTypes, err := s.duesTypesOf(ctx, groups)
	if err != nil {
		return nil, err
	}

	var unitIDs []int32
	for _, g := range groups {
		unitIDs = append(unitIDs, g.UnitIDsFor(periodKey)...)
	}
	labels, err := s.unitRepo.GetLabels(ctx, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("load unit labels: %w", err)
	}

	items := make([]*domain.DuesGenerationPreviewItem, 0, len(groups))
	for _, g := range groups {
		item := &domain.DuesGenerationPreviewItem{
			BillingGroupID:   g.ID,
			BillingGroupName: g.Name,
			DuesTypeName:     "-",
			Amount:           decimal.Zero,
			UnitsText:        domain.JoinLabels(domain.SortedLabels(g.UnitIDsFor(periodKey), labels), ", "),
		}
		if dt, ok := duesTypes[g.DuesTypeID]; ok {
			item.DuesTypeName = dt.Name
			item.Amount = dt.Amount
		}
		items = append(items, item)
	}
	return items, nil
}

// Generate creates the period's missing installments: one per merged group and one per
// member unit of every other group. Existing installments are kept, so repeated runs are
// harmless. A nil dueDate falls back to DefaultDueDate.
func (s *DuesGenerationService) Generate(ctx context.Context, period string, dueDate *time.Time) (*domain.GenerationResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDuration("dues_generate", time.Since(start)) }()

	periodKey, err := domain.PeriodKey(period)
	if err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}

	var due time.Time
	if dueDate != nil {
		due = util.EnsureUTC(*dueDate)
	} else {
		due = util.DefaultDueDate(periodKey, domain.FiscalYearStartMonth, s.defaultDueDay)
	}

	var result *domain.GenerationResult
	var mergedCreated, unitCreated int
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		result = &domain.GenerationResult{Period: period}
		mergedCreated, unitCreated = 0, 0

		groups, err := s.eligibleGroups(ctx, periodKey)
		if err != nil {
			return err
		}
		result.EligibleGroups = len(groups)

		normalized, err := s.normalizer.Normalize(ctx, period)
		if err != nil {
			return err
		}
		result.Normalized = normalized.Normalized
		result.SplitCreated = normalized.SplitCreated

		duesTypes, err := s.duesTypesOf(ctx, groups)
		if err != nil {
			return err
		}

		for _, g := range groups {
			amount := decimal.Zero
			if dt, ok := duesTypes[g.DuesTypeID]; ok {
				amount = dt.Amount
			} else {
				log.Warn().Int32("billing_group_id", g.ID).Int32("dues_type_id", g.DuesTypeID).Msg("Dues type missing, billing zero")
			}

			if g.IsMerged {
				created, err := s.createIfAbsent(ctx, domain.NewInstallment(g.ID, nil, period, due, amount))
				if err != nil {
					return err
				}
				if created {
					mergedCreated++
				} else {
					result.Skipped++
				}
				continue
			}

			for _, unitID := range g.UnitIDsFor(periodKey) {
				created, err := s.createIfAbsent(ctx, domain.NewInstallment(g.ID, &unitID, period, due, amount))
				if err != nil {
					return err
				}
				if created {
					unitCreated++
				} else {
					result.Skipped++
				}
			}
		}
		result.Created = mergedCreated + unitCreated
		return nil
	})
	if err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}

	s.metrics.AddInstallmentsGenerated("merged", mergedCreated)
	s.metrics.AddInstallmentsGenerated("unit", unitCreated)
	s.metrics.AddInstallmentsGenerated("split", result.SplitCreated)

	log.Info().
		Str("period", period).
		Int("eligible_groups", result.EligibleGroups).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("normalized", result.Normalized).
		Msg("Dues generated")

	if result.Created > 0 || result.Normalized > 0 {
		s.publishEvent(websocket.DuesGenerated(result))
	}
	return result, nil
}

// createIfAbsent inserts inst and reports false when the (group, period, unit) slot is taken
func (s *DuesGenerationService) createIfAbsent(ctx context.Context, inst *domain.DuesInstallment) (bool, error) {
	if _, err := s.installmentRepo.Create(ctx, inst); err != nil {
		if errors.Is(err, domain.ErrDuplicateInstallment) {
			return false, nil
		}
		return false, fmt.Errorf("create installment for billing group %d: %w", inst.BillingGroupID, err)
	}
	return true, nil
}

// DeleteForPeriod removes every installment of period, refusing when any has payments applied
func (s *DuesGenerationService) DeleteForPeriod(ctx context.Context, period string) (int, error) {
	if _, err := domain.PeriodKey(period); err != nil {
		s.metrics.RecordRejection(err)
		return 0, err
	}

	deleted := 0
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		installments, err := s.installmentRepo.ListByPeriod(ctx, period)
		if err != nil {
			return fmt.Errorf("list installments: %w", err)
		}
		if len(installments) == 0 {
			return nil
		}

		ids := make([]int32, 0, len(installments))
		groupIDs := make([]int32, 0, len(installments))
		for _, inst := range installments {
			ids = append(ids, inst.ID)
			groupIDs = append(groupIDs, inst.BillingGroupID)
		}
		if err := s.groupRepo.Lock(ctx, groupIDs...); err != nil {
			return err
		}

		allocated, err := s.collectionRepo.CountAllocatedInstallments(ctx, ids)
		if err != nil {
			return fmt.Errorf("count allocations: %w", err)
		}
		if allocated > 0 {
			return &domain.PeriodConflictError{Period: period, AllocatedInstallments: allocated}
		}

		deleted, err = s.installmentRepo.DeleteByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("delete installments: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordRejection(err)
		return 0, err
	}

	if deleted > 0 {
		log.Info().Str("period", period).Int("deleted", deleted).Msg("Dues deleted for period")
		s.publishEvent(websocket.DuesDeleted(map[string]interface{}{"period": period, "deleted": deleted}))
	}
	return deleted, nil
}
