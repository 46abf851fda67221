package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/rs/zerolog/log"
)

// BillingGroupService maintains billing groups and their unit memberships
type BillingGroupService struct {
	tx           domain.Transactor
	groupRepo    domain.BillingGroupRepository
	duesTypeRepo domain.DuesTypeRepository
	unitRepo     domain.UnitRepository
}

// NewBillingGroupService creates a new BillingGroupService
func NewBillingGroupService(tx domain.Transactor, groupRepo domain.BillingGroupRepository, duesTypeRepo domain.DuesTypeRepository, unitRepo domain.UnitRepository) *BillingGroupService {
	return &BillingGroupService{
		tx:           tx,
		groupRepo:    groupRepo,
		duesTypeRepo: duesTypeRepo,
		unitRepo:     unitRepo,
	}
}

// List returns groups ordered by name, resolved for display
func (s *BillingGroupService) List(ctx context.Context, filter domain.BillingGroupFilter) ([]*domain.BillingGroupDetail, error) {
	groups, err := s.groupRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, groups)
}

// Get returns one group resolved for display
func (s *BillingGroupService) Get(ctx context.Context, id int32) (*domain.BillingGroupDetail, error) {
	group, err := s.groupRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	details, err := s.details(ctx, []*domain.BillingGroup{group})
	if err != nil {
		return nil, err
	}
	return details[0], nil
}

func (s *BillingGroupService) details(ctx context.Context, groups []*domain.BillingGroup) ([]*domain.BillingGroupDetail, error) {
	var duesTypeIDs, unitIDs []int32
	for _, g := range groups {
		duesTypeIDs = append(duesTypeIDs, g.DuesTypeID)
		unitIDs = append(unitIDs, g.UnitIDs()...)
	}
	duesTypes, err := s.duesTypeRepo.GetByIDs(ctx, duesTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("load dues types: %w", err)
	}
	labels, err := s.unitRepo.GetLabels(ctx, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("load unit labels: %w", err)
	}

	out := make([]*domain.BillingGroupDetail, 0, len(groups))
	for _, g := range groups {
		detail := &domain.BillingGroupDetail{
			BillingGroup: g,
			DuesTypeName: "-",
			UnitsText:    g.UnitsText(labels),
			UnitDisplay:  g.UnitDisplay(labels),
		}
		if dt, ok := duesTypes[g.DuesTypeID]; ok {
			detail.DuesTypeName = dt.Name
		}
		out = append(out, detail)
	}
	return out, nil
}

// Save creates the group when id is nil, otherwise updates it. The unit selection replaces
// all memberships, each spanning the group's window.
func (s *BillingGroupService) Save(ctx context.Context, id *int32, input domain.BillingGroupInput) (*domain.BillingGroupDetail, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domain.ErrNameRequired
	}
	if len(name) > domain.MaxNameLength {
		return nil, domain.ErrNameTooLong
	}

	endPeriod := input.EffectiveEndPeriod
	if endPeriod != nil && strings.TrimSpace(*endPeriod) == "" {
		endPeriod = nil
	}
	window := domain.PeriodWindow{Start: input.EffectiveStartPeriod, End: endPeriod}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	unitIDs := distinctIDs(input.UnitIDs)
	if len(unitIDs) == 0 {
		return nil, domain.ErrNoUnitsSelected
	}

	var groupID int32
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.duesTypeRepo.GetByID(ctx, input.DuesTypeID); err != nil {
			return err
		}
		labels, err := s.unitRepo.GetLabels(ctx, unitIDs)
		if err != nil {
			return fmt.Errorf("load units: %w", err)
		}
		if len(labels) != len(unitIDs) {
			return domain.ErrUnitNotFound
		}

		group := &domain.BillingGroup{
			Name:                 name,
			DuesTypeID:           input.DuesTypeID,
			EffectiveStartPeriod: window.Start,
			EffectiveEndPeriod:   window.End,
			Active:               input.Active,
			IsMerged:             input.MergeUnits,
		}

		var saved *domain.BillingGroup
		if id == nil {
			saved, err = s.groupRepo.Create(ctx, group)
		} else {
			if err := s.groupRepo.Lock(ctx, *id); err != nil {
				return err
			}
			group.ID = *id
			saved, err = s.groupRepo.Update(ctx, group)
		}
		if err != nil {
			return err
		}

		members := make([]domain.UnitMembership, 0, len(unitIDs))
		for _, unitID := range unitIDs {
			members = append(members, domain.UnitMembership{
				BillingGroupID: saved.ID,
				UnitID:         unitID,
				StartPeriod:    window.Start,
				EndPeriod:      window.End,
			})
		}
		if err := s.groupRepo.ReplaceMembers(ctx, saved.ID, members); err != nil {
			return fmt.Errorf("replace members: %w", err)
		}
		groupID = saved.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int32("billing_group_id", groupID).
		Bool("created", id == nil).
		Int("units", len(unitIDs)).
		Msg("Billing group saved")

	return s.Get(ctx, groupID)
}

// Deactivate soft-deletes a group; its installments and collections stay
func (s *BillingGroupService) Deactivate(ctx context.Context, id int32) error {
	if err := s.groupRepo.SetActive(ctx, id, false); err != nil {
		return err
	}
	log.Info().Int32("billing_group_id", id).Msg("Billing group deactivated")
	return nil
}

func distinctIDs(ids []int32) []int32 {
	seen := make(map[int32]bool, len(ids))
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
