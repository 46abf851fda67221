package domain

import (
	"context"
	"time"
)

// BillingGroup is a billable entity made of one or more units sharing a dues type.
// A merged group bills one installment per period; a split group bills each member unit.
type BillingGroup struct {
	ID                   int32            `json:"id"`
	Name                 string           `json:"name"`
	DuesTypeID           int32            `json:"duesTypeId"`
	EffectiveStartPeriod string           `json:"effectiveStartPeriod"`
	EffectiveEndPeriod   *string          `json:"effectiveEndPeriod,omitempty"`
	Active               bool             `json:"active"`
	IsMerged             bool             `json:"isMerged"`
	Members              []UnitMembership `json:"members"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// UnitMembership places a unit in a billing group for a window of periods.
type UnitMembership struct {
	ID             int32   `json:"id"`
	BillingGroupID int32   `json:"billingGroupId"`
	UnitID         int32   `json:"unitId"`
	StartPeriod    string  `json:"startPeriod"`
	EndPeriod      *string `json:"endPeriod,omitempty"`
}

// Window returns the group's effective period window.
func (g *BillingGroup) Window() PeriodWindow {
	return PeriodWindow{Start: g.EffectiveStartPeriod, End: g.EffectiveEndPeriod}
}

// EligibleFor reports whether the group generates dues for the period key.
func (g *BillingGroup) EligibleFor(periodKey int) bool {
	return g.Active && g.Window().Covers(periodKey)
}

// UnitIDsFor returns the distinct member unit ids whose membership covers the period key,
// in membership order.
func (g *BillingGroup) UnitIDsFor(periodKey int) []int32 {
	seen := make(map[int32]bool, len(g.Members))
	ids := make([]int32, 0, len(g.Members))
	for _, m := range g.Members {
		if seen[m.UnitID] {
			continue
		}
		if !(PeriodWindow{Start: m.StartPeriod, End: m.EndPeriod}).Covers(periodKey) {
			continue
		}
		seen[m.UnitID] = true
		ids = append(ids, m.UnitID)
	}
	return ids
}

// UnitIDs returns every distinct member unit id regardless of window.
func (g *BillingGroup) UnitIDs() []int32 {
	seen := make(map[int32]bool, len(g.Members))
	ids := make([]int32, 0, len(g.Members))
	for _, m := range g.Members {
		if !seen[m.UnitID] {
			seen[m.UnitID] = true
			ids = append(ids, m.UnitID)
		}
	}
	return ids
}

// HasMember reports whether unitID is a member of the group.
func (g *BillingGroup) HasMember(unitID int32) bool {
	for _, m := range g.Members {
		if m.UnitID == unitID {
			return true
		}
	}
	return false
}

// SortedUnitLabels returns the labels of the group's members ordered by block then unit number.
func (g *BillingGroup) SortedUnitLabels(labels map[int32]UnitLabel) []UnitLabel {
	return SortedLabels(g.UnitIDs(), labels)
}

// UnitsText joins the member labels with ", ".
func (g *BillingGroup) UnitsText(labels map[int32]UnitLabel) string {
	return JoinLabels(g.SortedUnitLabels(labels), ", ")
}

// UnitDisplay is the label of a group-level row: the single unit, the merged units,
// the split unit list, or the group name when it has no units.
func (g *BillingGroup) UnitDisplay(labels map[int32]UnitLabel) string {
	sorted := g.SortedUnitLabels(labels)
	switch {
	case len(sorted) == 0:
		return g.Name
	case len(sorted) == 1:
		return sorted[0].Display()
	case g.IsMerged:
		return JoinLabels(sorted, " + ") + " (Merged)"
	default:
		return JoinLabels(sorted, ", ")
	}
}

// BillingGroupDetail is a group resolved with its dues type and unit labels for display.
type BillingGroupDetail struct {
	*BillingGroup
	DuesTypeName string `json:"duesTypeName"`
	UnitsText    string `json:"unitsText"`
	UnitDisplay  string `json:"unitDisplay"`
}

// BillingGroupInput is the payload for creating or updating a billing group.
type BillingGroupInput struct {
	Name                 string
	DuesTypeID           int32
	EffectiveStartPeriod string
	EffectiveEndPeriod   *string
	Active               bool
	MergeUnits           bool
	UnitIDs              []int32
}

// BillingGroupFilter narrows group listings.
type BillingGroupFilter struct {
	ActiveOnly bool
}

type BillingGroupRepository interface {
	// GetByID returns the group with its memberships.
	GetByID(ctx context.Context, id int32) (*BillingGroup, error)
	GetByIDs(ctx context.Context, ids []int32) (map[int32]*BillingGroup, error)
	// List returns groups with memberships ordered by name.
	List(ctx context.Context, filter BillingGroupFilter) ([]*BillingGroup, error)
	Create(ctx context.Context, group *BillingGroup) (*BillingGroup, error)
	Update(ctx context.Context, group *BillingGroup) (*BillingGroup, error)
	// ReplaceMembers drops the group's memberships and inserts members.
	ReplaceMembers(ctx context.Context, groupID int32, members []UnitMembership) error
	SetActive(ctx context.Context, id int32, active bool) error
	// Lock takes row locks on the given groups until the surrounding transaction ends.
	Lock(ctx context.Context, ids ...int32) error
	// GroupIDsWithUnitsInBlock returns groups having at least one member unit in the block.
	GroupIDsWithUnitsInBlock(ctx context.Context, blockID int32) ([]int32, error)
	CountActive(ctx context.Context) (int, error)
}
