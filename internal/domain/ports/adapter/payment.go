package adapter

import (
	"context"

	"subscription-payments/internal/domain/model"
)

// InitiateRequest carries everything a vendor adapter needs to start a new
// payment. Instrument secrets (IBAN/BIC, card data) are passed through to the
// provider and must never be persisted by the adapter.
type InitiateRequest struct {
	UserID      string
	Method      model.PaymentMethod
	AmountCents int64
	DebitPeriod model.DebitPeriod
	Billing     model.BillingDetails

	// Direct-debit instrument details, consumed by the mandate step.
	IBAN          string
	BIC           string
	AccountHolder string

	// Postpone requests a pre-authorized payment that is not captured yet.
	Postpone bool
}

// NotificationStatus is the provider-agnostic mapping of a postback's
// transaction status.
type NotificationStatus int

const (
	NotificationStatusUnknown NotificationStatus = iota
	NotificationStatusPending                    // started/pending, nothing to do yet
	NotificationStatusSucceeded
	NotificationStatusCanceled
	NotificationStatusFailed // declined or errored
	NotificationStatusRefunded
)

// Notification is a parsed, authenticated postback.
type Notification struct {
	VendorTransactionID string
	OrderID             string
	Status              NotificationStatus
	VendorStatusCode    int            // raw provider code for logging
	Data                map[string]any // redacted payload for the transaction log
}

type RedirectKind string

const (
	RedirectSuccess RedirectKind = "success"
	RedirectError   RedirectKind = "error"
)

// PaymentGateway is the port a concrete payment vendor adapter implements.
// The state machine and the scheduler depend only on this interface; the
// adapter is constructed once at startup and injected (no global backend
// singleton, no by-name class loading).
type PaymentGateway interface {
	Name() string

	// InitiatePayment validates the billing params for the method (missing
	// fields come back as *domain.MissingParamsError), performs any
	// out-of-band mandate step, calls the provider, and returns an unsaved
	// payment record in Started status. Provider traffic is appended to the
	// transaction log regardless of outcome.
	InitiatePayment(ctx context.Context, req InitiateRequest) (*model.Payment, error)

	// MakeRecurringPayment books the next charge of a subscription by
	// chaining off the reference payment's vendor transaction. It charges
	// the subscription's current amount, not the reference payment's, and
	// refuses when the subscription is not active or its last payment is
	// not finalized.
	MakeRecurringPayment(ctx context.Context, ref *model.Payment, sub *model.Subscription, lastPayment *model.Payment) (*model.Payment, error)

	// VerifyNotification authenticates an inbound postback's signature.
	// Returns domain.ErrBadSignature on mismatch.
	VerifyNotification(params map[string]string) error

	// ParseNotification maps an authenticated postback to the
	// provider-agnostic Notification. The returned Data is already redacted.
	ParseNotification(params map[string]string) (*Notification, error)

	// ValidateRedirect authenticates a user-facing success/error redirect
	// and returns the internal order id it refers to.
	ValidateRedirect(params map[string]string, kind RedirectKind) (orderID string, err error)
}
