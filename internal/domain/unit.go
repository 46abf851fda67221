package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Block is a building inside the site.
type Block struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

type Unit struct {
	ID        int32   `json:"id"`
	BlockID   int32   `json:"blockId"`
	UnitNo    string  `json:"unitNo"`
	OwnerName *string `json:"ownerName,omitempty"`
	Active    bool    `json:"active"`
}

// UnitLabel is a unit resolved together with its block name.
type UnitLabel struct {
	UnitID    int32
	BlockID   int32
	BlockName string
	UnitNo    string
}

// Display returns the "Block-UnitNo" label used across reports.
func (l UnitLabel) Display() string {
	return fmt.Sprintf("%s-%s", l.BlockName, l.UnitNo)
}

// Less orders labels by block name then unit number.
func (l UnitLabel) Less(other UnitLabel) bool {
	if l.BlockName != other.BlockName {
		return l.BlockName < other.BlockName
	}
	if l.UnitNo != other.UnitNo {
		return l.UnitNo < other.UnitNo
	}
	return l.UnitID < other.UnitID
}

// SortedLabels resolves ids to labels ordered by block then unit number. Unknown ids are dropped.
func SortedLabels(ids []int32, labels map[int32]UnitLabel) []UnitLabel {
	out := make([]UnitLabel, 0, len(ids))
	for _, id := range ids {
		if l, ok := labels[id]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// JoinLabels joins the display form of labels with sep.
func JoinLabels(labels []UnitLabel, sep string) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Display()
	}
	return strings.Join(parts, sep)
}

type UnitRepository interface {
	GetByID(ctx context.Context, id int32) (*Unit, error)
	// GetLabels returns block-qualified labels for the given unit ids. Unknown ids are skipped.
	GetLabels(ctx context.Context, ids []int32) (map[int32]UnitLabel, error)
}
