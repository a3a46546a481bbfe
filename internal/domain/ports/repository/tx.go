package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// NoTX marks the explicit non-transactional path.
var NoTX Tx = nil

// TransactionManager provides a thin abstraction to execute a function within
// a database transaction, passing the underlying transaction handle via `tx`.
//
// Repository methods accept `tx Tx` and detect a live transaction handle
// implementation-side (pgx.Tx for Postgres); they gracefully accept nil for
// the non-transactional path. Keeping the handle opaque keeps the use-case
// interfaces free of storage types.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error

	// WithUserLock is WithTx plus a per-user advisory transaction lock, so
	// two concurrent writers cannot both pass the subscription exclusivity
	// check before either commits.
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error
}
