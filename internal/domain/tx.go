package domain

import "context"

// Transactor runs fn inside one database transaction. Repository calls made with the
// ctx passed to fn join that transaction. If fn returns an error everything is rolled back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
