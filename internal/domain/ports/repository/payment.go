package repository

import (
	"context"
	"time"

	"subscription-payments/internal/domain/model"
)

// PaymentRepository is the port for payment records. Records are insert-or-
// update only; nothing ever deletes a payment.
type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	// FindByTransaction resolves a payment from a postback via the vendor
	// transaction id plus our order id.
	FindByTransaction(ctx context.Context, tx Tx, vendorTxID, orderID string) (*model.Payment, error)
	FindByOrderID(ctx context.Context, tx Tx, orderID string) (*model.Payment, error)

	// CountPaidSince and SumPaidSince back the pre-payment safety checks.
	CountPaidSince(ctx context.Context, tx Tx, userID string, since time.Time) (int, error)
	SumPaidSince(ctx context.Context, tx Tx, userID string, since time.Time) (int64, error)

	// SumPaidByPeriod returns revenue for 'week' | 'month' | 'year'.
	SumPaidByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
}

// TransactionLogRepository is append-only.
type TransactionLogRepository interface {
	Append(ctx context.Context, tx Tx, entry *model.TransactionLog) error
}

type UserRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
}
