package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// DuesType supplies the per-period charge of a billing group.
type DuesType struct {
	ID     int32           `json:"id"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Active bool            `json:"active"`
}

type DuesTypeRepository interface {
	GetByID(ctx context.Context, id int32) (*DuesType, error)
	GetByIDs(ctx context.Context, ids []int32) (map[int32]*DuesType, error)
}
