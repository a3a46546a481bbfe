package adapter

import (
	"context"

	"subscription-payments/internal/domain/model"
)

// InvoiceBackend receives the successful-payment event. Invoice rendering and
// delivery live entirely behind this port; the core only guarantees it fires
// exactly once per transition to paid.
type InvoiceBackend interface {
	Name() string
	CreateInvoiceForPayment(ctx context.Context, payment *model.Payment) error
}

// OperatorNotifier delivers operator-actionable alerts (refunds that need a
// manual accounting reversal, stuck pending payments, invariant violations).
type OperatorNotifier interface {
	NotifyOperators(ctx context.Context, subject, message string) error
}
