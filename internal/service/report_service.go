package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/shopspring/decimal"
)

// ReportService builds read-only views over the installment ledger
type ReportService struct {
	groupRepo       domain.BillingGroupRepository
	duesTypeRepo    domain.DuesTypeRepository
	unitRepo        domain.UnitRepository
	installmentRepo domain.InstallmentRepository
	collectionRepo  domain.CollectionRepository
}

// NewReportService creates a new ReportService
func NewReportService(groupRepo domain.BillingGroupRepository, duesTypeRepo domain.DuesTypeRepository, unitRepo domain.UnitRepository, installmentRepo domain.InstallmentRepository, collectionRepo domain.CollectionRepository) *ReportService {
	return &ReportService{
		groupRepo:       groupRepo,
		duesTypeRepo:    duesTypeRepo,
		unitRepo:        unitRepo,
		installmentRepo: installmentRepo,
		collectionRepo:  collectionRepo,
	}
}

// DuesDebtReport lists installments matching every set filter. Each group's unapplied collection
// credit is subtracted from its rows, earliest period and smallest amount first; credit left over
// after that is shown as an Overpayment row with a negative remaining amount.
func (s *ReportService) DuesDebtReport(ctx context.Context, query domain.DuesDebtReportQuery) ([]*domain.DuesDebtReportRow, error) {
	if query.Period != nil && !domain.IsValidPeriod(*query.Period) {
		return nil, domain.ErrInvalidPeriodFormat
	}

	filter := domain.InstallmentFilter{Period: query.Period}
	if query.BillingGroupID != nil {
		filter.BillingGroupIDs = []int32{*query.BillingGroupID}
	}
	if query.BlockID != nil {
		inBlock, err := s.groupRepo.GroupIDsWithUnitsInBlock(ctx, *query.BlockID)
		if err != nil {
			return nil, fmt.Errorf("groups in block: %w", err)
		}
		filter.BillingGroupIDs = intersect(filter.BillingGroupIDs, inBlock, query.BillingGroupID != nil)
		if len(filter.BillingGroupIDs) == 0 {
			return []*domain.DuesDebtReportRow{}, nil
		}
	}

	installments, err := s.installmentRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	if len(installments) == 0 {
		return []*domain.DuesDebtReportRow{}, nil
	}

	var groupIDs []int32
	seenGroup := make(map[int32]bool)
	for _, inst := range installments {
		if !seenGroup[inst.BillingGroupID] {
			seenGroup[inst.BillingGroupID] = true
			groupIDs = append(groupIDs, inst.BillingGroupID)
		}
	}
	groups, err := s.groupRepo.GetByIDs(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("load billing groups: %w", err)
	}

	duesTypeIDs := make([]int32, 0, len(groups))
	var unitIDs []int32
	for _, g := range groups {
		duesTypeIDs = append(duesTypeIDs, g.DuesTypeID)
		unitIDs = append(unitIDs, g.UnitIDs()...)
	}
	for _, inst := range installments {
		if inst.UnitID != nil {
			unitIDs = append(unitIDs, *inst.UnitID)
		}
	}
	duesTypes, err := s.duesTypeRepo.GetByIDs(ctx, duesTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("load dues types: %w", err)
	}
	labels, err := s.unitRepo.GetLabels(ctx, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("load unit labels: %w", err)
	}

	rows := make([]*domain.DuesDebtReportRow, 0, len(installments))
	for _, inst := range installments {
		group, ok := groups[inst.BillingGroupID]
		if !ok {
			continue
		}
		if query.DuesTypeID != nil && group.DuesTypeID != *query.DuesTypeID {
			continue
		}
		rows = append(rows, buildReportRow(inst, group, duesTypes, labels))
	}

	credits, err := s.collectionRepo.CreditByGroups(ctx, distinctGroupIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("load group credit: %w", err)
	}
	rows = applyCredit(rows, credits)

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].UnitDisplay != rows[j].UnitDisplay {
			return rows[i].UnitDisplay < rows[j].UnitDisplay
		}
		return rows[i].Period < rows[j].Period
	})
	return rows, nil
}

func buildReportRow(inst *domain.DuesInstallment, group *domain.BillingGroup, duesTypes map[int32]*domain.DuesType, labels map[int32]domain.UnitLabel) *domain.DuesDebtReportRow {
	id := inst.ID
	row := &domain.DuesDebtReportRow{
		InstallmentID:    &id,
		BillingGroupID:   group.ID,
		UnitDisplay:      group.UnitDisplay(labels),
		BillingGroupName: group.Name,
		DuesTypeName:     "-",
		Period:           inst.Period,
		Amount:           inst.Amount,
		RemainingAmount:  inst.RemainingAmount,
		UnitsText:        group.UnitsText(labels),
	}
	if inst.UnitID != nil {
		if label, ok := labels[*inst.UnitID]; ok {
			row.UnitDisplay = label.Display()
		}
	}
	if dt, ok := duesTypes[group.DuesTypeID]; ok {
		row.DuesTypeName = dt.Name
	}
	return row
}

// applyCredit spreads each group's credit over its rows and appends Overpayment rows for the rest
func applyCredit(rows []*domain.DuesDebtReportRow, credits map[int32]decimal.Decimal) []*domain.DuesDebtReportRow {
	byGroup := make(map[int32][]*domain.DuesDebtReportRow)
	var order []int32
	for _, row := range rows {
		if _, ok := byGroup[row.BillingGroupID]; !ok {
			order = append(order, row.BillingGroupID)
		}
		byGroup[row.BillingGroupID] = append(byGroup[row.BillingGroupID], row)
	}

	for _, groupID := range order {
		credit, ok := credits[groupID]
		if !ok || credit.LessThanOrEqual(decimal.Zero) {
			continue
		}

		groupRows := append([]*domain.DuesDebtReportRow(nil), byGroup[groupID]...)
		sort.SliceStable(groupRows, func(i, j int) bool {
			if groupRows[i].Period != groupRows[j].Period {
				return groupRows[i].Period < groupRows[j].Period
			}
			return groupRows[i].Amount.LessThan(groupRows[j].Amount)
		})

		for _, row := range groupRows {
			if credit.LessThanOrEqual(decimal.Zero) {
				break
			}
			if row.RemainingAmount.LessThanOrEqual(decimal.Zero) {
				continue
			}
			reduction := decimal.Min(row.RemainingAmount, credit)
			row.RemainingAmount = row.RemainingAmount.Sub(reduction)
			credit = credit.Sub(reduction)
		}

		if credit.GreaterThan(decimal.Zero) {
			anchor := groupRows[len(groupRows)-1]
			rows = append(rows, &domain.DuesDebtReportRow{
				BillingGroupID:   anchor.BillingGroupID,
				UnitDisplay:      anchor.UnitDisplay,
				BillingGroupName: anchor.BillingGroupName,
				DuesTypeName:     domain.OverpaymentLabel,
				Period:           anchor.Period,
				Amount:           decimal.Zero,
				RemainingAmount:  credit.Neg(),
				UnitsText:        anchor.UnitsText,
			})
		}
	}
	return rows
}

func distinctGroupIDs(rows []*domain.DuesDebtReportRow) []int32 {
	seen := make(map[int32]bool)
	var ids []int32
	for _, row := range rows {
		if !seen[row.BillingGroupID] {
			seen[row.BillingGroupID] = true
			ids = append(ids, row.BillingGroupID)
		}
	}
	return ids
}

// intersect narrows current by other. When current is unconstrained other is returned.
func intersect(current, other []int32, constrained bool) []int32 {
	if !constrained {
		return other
	}
	keep := make(map[int32]bool, len(other))
	for _, id := range other {
		keep[id] = true
	}
	var out []int32
	for _, id := range current {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}
