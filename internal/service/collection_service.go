package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/observability"
	"github.com/kumburgaz/dues-backend/internal/util"
	"github.com/kumburgaz/dues-backend/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CollectionService records payments and keeps installment balances in step with them.
// Every write rolls back the collection's previous allocations (if any) and re-applies
// the amount to the group's open installments, oldest first, in one transaction.
// Edits lock the collection row before the group rows, and read allocations only after both.
type CollectionService struct {
	tx              domain.Transactor
	collectionRepo  domain.CollectionRepository
	groupRepo       domain.BillingGroupRepository
	unitRepo        domain.UnitRepository
	installmentRepo domain.InstallmentRepository
	metrics         *observability.Metrics
	eventPublisher  websocket.EventPublisher
}

// NewCollectionService creates a new CollectionService
func NewCollectionService(tx domain.Transactor, collectionRepo domain.CollectionRepository, groupRepo domain.BillingGroupRepository, unitRepo domain.UnitRepository, installmentRepo domain.InstallmentRepository, metrics *observability.Metrics) *CollectionService {
	return &CollectionService{
		tx:              tx,
		collectionRepo:  collectionRepo,
		groupRepo:       groupRepo,
		unitRepo:        unitRepo,
		installmentRepo: installmentRepo,
		metrics:         metrics,
	}
}

// SetEventPublisher sets the event publisher for real-time updates
func (s *CollectionService) SetEventPublisher(publisher websocket.EventPublisher) {
	s.eventPublisher = publisher
}

func (s *CollectionService) publishEvent(event websocket.Event) {
	if s.eventPublisher != nil {
		s.eventPublisher.Publish(event)
	}
}

func (s *CollectionService) ledger() ledger {
	return ledger{installmentRepo: s.installmentRepo, collectionRepo: s.collectionRepo}
}

// List returns all collections, newest first
func (s *CollectionService) List(ctx context.Context) ([]*domain.Collection, error) {
	return s.collectionRepo.List(ctx)
}

// Get returns a collection with its allocations
func (s *CollectionService) Get(ctx context.Context, id int32) (*domain.Collection, error) {
	return s.collectionRepo.GetByID(ctx, id)
}

// GroupCredit returns the part of the group's collections not applied to any installment
func (s *CollectionService) GroupCredit(ctx context.Context, groupID int32) (decimal.Decimal, error) {
	if _, err := s.groupRepo.GetByID(ctx, groupID); err != nil {
		return decimal.Zero, err
	}
	credits, err := s.collectionRepo.CreditByGroups(ctx, []int32{groupID})
	if err != nil {
		return decimal.Zero, err
	}
	return credits[groupID], nil
}

// Create records a collection and allocates it
func (s *CollectionService) Create(ctx context.Context, input domain.CollectionInput) (*domain.Collection, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDuration("collection_create", time.Since(start)) }()

	if err := input.Validate(); err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}

	var collectionID int32
	var applied decimal.Decimal
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.groupRepo.Lock(ctx, input.BillingGroupID); err != nil {
			return err
		}
		unitID, err := s.resolveUnit(ctx, input.BillingGroupID, input.UnitID)
		if err != nil {
			return err
		}

		created, err := s.collectionRepo.Create(ctx, newCollection(input, unitID))
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		if err := s.ledger().allocate(ctx, created); err != nil {
			return err
		}
		collectionID = created.ID
		applied = created.AllocatedAmount()
		return nil
	})
	if err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}

	s.metrics.RecordAllocation(applied)
	collection, err := s.collectionRepo.GetByID(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int32("collection_id", collection.ID).
		Int32("billing_group_id", collection.BillingGroupID).
		Str("amount", collection.Amount.StringFixed(2)).
		Str("applied", applied.StringFixed(2)).
		Msg("Collection recorded")

	s.publishEvent(websocket.CollectionCreated(collection, collection.BillingGroupID))
	return collection, nil
}

// Update rewrites a collection and reallocates it from scratch
func (s *CollectionService) Update(ctx context.Context, id int32, input domain.CollectionInput) (*domain.Collection, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDuration("collection_update", time.Since(start)) }()

	if err := input.Validate(); err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}

	var previousGroupID int32
	var applied decimal.Decimal
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.collectionRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previousGroupID = locked.BillingGroupID

		if err := s.groupRepo.Lock(ctx, locked.BillingGroupID, input.BillingGroupID); err != nil {
			return err
		}
		existing, err := s.collectionRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		unitID, err := s.resolveUnit(ctx, input.BillingGroupID, input.UnitID)
		if err != nil {
			return err
		}

		if err := s.ledger().rollback(ctx, existing); err != nil {
			return err
		}

		next := newCollection(input, unitID)
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		updated, err := s.collectionRepo.Update(ctx, next)
		if err != nil {
			return fmt.Errorf("update collection: %w", err)
		}
		if err := s.ledger().allocate(ctx, updated); err != nil {
			return err
		}
		applied = updated.AllocatedAmount()
		return nil
	})
	if err != nil {
		s.metrics.RecordRejection(err)
		return nil, err
	}

	s.metrics.RecordAllocation(applied)
	collection, err := s.collectionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int32("collection_id", id).
		Int32("billing_group_id", collection.BillingGroupID).
		Str("amount", collection.Amount.StringFixed(2)).
		Str("applied", applied.StringFixed(2)).
		Msg("Collection updated")

	s.publishEvent(websocket.CollectionUpdated(collection, groupIDs(previousGroupID, collection.BillingGroupID)...))
	return collection, nil
}

// Delete rolls back a collection's allocations and removes it
func (s *CollectionService) Delete(ctx context.Context, id int32) error {
	start := time.Now()
	defer func() { s.metrics.ObserveDuration("collection_delete", time.Since(start)) }()

	var groupID int32
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.collectionRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		groupID = locked.BillingGroupID

		if err := s.groupRepo.Lock(ctx, locked.BillingGroupID); err != nil {
			return err
		}
		existing, err := s.collectionRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.ledger().rollback(ctx, existing); err != nil {
			return err
		}
		return s.collectionRepo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	log.Info().Int32("collection_id", id).Int32("billing_group_id", groupID).Msg("Collection deleted")
	s.publishEvent(websocket.CollectionDeleted(map[string]int32{"id": id}, groupID))
	return nil
}

// resolveUnit checks an explicit unit against the group, or picks the group's representative unit:
// the first member ordered by block name then unit number.
func (s *CollectionService) resolveUnit(ctx context.Context, groupID int32, unitID *int32) (int32, error) {
	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return 0, err
	}

	if unitID != nil {
		if !group.HasMember(*unitID) {
			return 0, domain.ErrUnitNotInGroup
		}
		return *unitID, nil
	}

	labels, err := s.unitRepo.GetLabels(ctx, group.UnitIDs())
	if err != nil {
		return 0, fmt.Errorf("load unit labels: %w", err)
	}
	sorted := group.SortedUnitLabels(labels)
	if len(sorted) == 0 {
		return 0, domain.ErrGroupHasNoUnits
	}
	return sorted[0].UnitID, nil
}

func newCollection(input domain.CollectionInput, unitID int32) *domain.Collection {
	return &domain.Collection{
		BillingGroupID: input.BillingGroupID,
		UnitID:         unitID,
		Date:           util.EnsureUTC(input.Date),
		Amount:         input.Amount,
		PaymentChannel: input.PaymentChannel,
		ReferenceNo:    input.ReferenceNo,
		Note:           input.Note,
	}
}

func groupIDs(a, b int32) []int32 {
	if a == b {
		return []int32{a}
	}
	return []int32{a, b}
}

