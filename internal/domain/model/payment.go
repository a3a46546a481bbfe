package model

import (
	"time"

	"subscription-payments/internal/domain"
)

type PaymentMethod string

const (
	// Direct debit (SEPA). Requires a mandate step at the provider and is
	// confirmed asynchronously via postback unless the provider is configured
	// as instantly settling.
	PaymentMethodDirectDebit PaymentMethod = "dd"
	// Credit card. The user is redirected to the provider's page.
	PaymentMethodCreditCard PaymentMethod = "cc"
	// Wallet redirect (PayPal-style). Also redirect based.
	PaymentMethodPayPal PaymentMethod = "paypal"
)

// RedirectingMethods are the payment methods that bounce the user through an
// external provider page and come back via the success/error redirect URLs.
var RedirectingMethods = map[PaymentMethod]bool{
	PaymentMethodCreditCard: true,
	PaymentMethodPayPal:     true,
}

type PaymentStatus int

// Payment statuses. A payment only ever moves forward; a finalized payment is
// immutable except for the attachment of a subscription reference.
const (
	PaymentStatusNotStarted    PaymentStatus = 0
	PaymentStatusStarted       PaymentStatus = 1
	PaymentStatusUnconfirmed   PaymentStatus = 2 // provider accepted, waiting for the postback
	PaymentStatusPreauthorized PaymentStatus = 3 // postponed payment, authorized but not captured
	PaymentStatusPaid          PaymentStatus = 10
	PaymentStatusFailed        PaymentStatus = 11
	PaymentStatusCanceled      PaymentStatus = 12
	PaymentStatusRetracted     PaymentStatus = 13 // refunded or charged back
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusNotStarted:
		return "not_started"
	case PaymentStatusStarted:
		return "started"
	case PaymentStatusUnconfirmed:
		return "unconfirmed"
	case PaymentStatusPreauthorized:
		return "preauthorized"
	case PaymentStatusPaid:
		return "paid"
	case PaymentStatusFailed:
		return "failed"
	case PaymentStatusCanceled:
		return "canceled"
	case PaymentStatusRetracted:
		return "retracted"
	}
	return "unknown"
}

// Finalized reports whether the payment reached a terminal status. A
// subscription may only book its next payment once the previous one is
// finalized, otherwise a pending charge could be double-booked.
func (s PaymentStatus) Finalized() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRetracted:
		return true
	}
	return false
}

type DebitPeriod string

const (
	DebitPeriodMonthly DebitPeriod = "monthly"
	DebitPeriodYearly  DebitPeriod = "yearly"
)

// Months returns the billing period length in months.
func (p DebitPeriod) Months() int {
	if p == DebitPeriodYearly {
		return 12
	}
	return 1
}

// BillingDetails is the billing identity snapshot captured at payment time.
// It is intentionally independent of the user's current profile: recurring
// payments are booked against the identity the mandate was given for.
type BillingDetails struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"` // ISO 3166-1 code
	Organisation string `json:"organisation,omitempty"`
}

// Payment is the durable record of one monetary transaction attempt.
// Records are never deleted.
type Payment struct {
	ID             string  // UUID
	UserID         string  // UUID
	SubscriptionID *string // set once the payment is attached to a subscription

	// VendorTransactionID is assigned by the payment provider;
	// OrderID is generated by us and correlates outgoing requests
	// with inbound postbacks.
	VendorTransactionID string
	OrderID             string

	AmountCents int64 // minor units, to avoid float errors
	Currency    string
	Method      PaymentMethod
	Status      PaymentStatus
	DebitPeriod DebitPeriod

	// IsReferencePayment is true only for the payment that originates a
	// subscription; recurring payments are chained off it at the provider.
	IsReferencePayment bool
	// IsPostponed marks a pre-authorized payment that has not been captured.
	IsPostponed bool

	Billing BillingDetails

	// ExtraData holds the provider-specific payload kept for reconciliation.
	// Sensitive fields are stripped before it is ever persisted.
	ExtraData map[string]any

	Backend string // gateway name that produced this record

	CreatedAt    time.Time
	LastActionAt time.Time  // bumped on every mutation
	CompletedAt  *time.Time // set only on terminal success
}

// NewPayment creates a payment record in Started status.
func NewPayment(id, userID, orderID string, method PaymentMethod, amountCents int64, billing BillingDetails) (*Payment, error) {
	if id == "" || orderID == "" || amountCents <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Payment{
		ID:                 id,
		UserID:             userID,
		OrderID:            orderID,
		AmountCents:        amountCents,
		Currency:           "EUR",
		Method:             method,
		Status:             PaymentStatusStarted,
		DebitPeriod:        DebitPeriodMonthly,
		IsReferencePayment: true,
		Billing:            billing,
		ExtraData:          map[string]any{},
		CreatedAt:          now,
		LastActionAt:       now,
	}, nil
}

// MarkPaid transitions the payment to Paid and stamps CompletedAt.
// Returns false (no-op) when the payment is already paid, so duplicate
// success postbacks cannot trigger side effects twice.
func (p *Payment) MarkPaid(at time.Time) bool {
	if p.Status == PaymentStatusPaid {
		return false
	}
	p.Status = PaymentStatusPaid
	p.CompletedAt = &at
	p.LastActionAt = at
	return true
}
