package model

import (
	"time"

	"subscription-payments/internal/domain"
)

type SubscriptionState int

// Subscription states. A subscription can only ever go from higher number
// states to lower number states, never back up again. The single exception is
// Suspended, which is reachable from either active state and never returns to
// an active state: the user has to start a brand-new subscription instead.
const (
	// No remaining run-time; terminal. There can be many of these per user.
	SubscriptionStateTerminated SubscriptionState = 0
	// User cancelled, but the subscription still has run-time left until
	// next_due_date, after which it auto-terminates.
	SubscriptionStateCancelledButActive SubscriptionState = 1
	// Normal, auto-renewing.
	SubscriptionStateActive SubscriptionState = 2
	// Recurring payment failed repeatedly or was refunded/charged back.
	SubscriptionStateSuspended SubscriptionState = 99
)

// ActiveFamily lists the states of which a single user may hold at most one
// subscription at any time. Two rows in this set for one user means the user
// is being double-charged; persisting such a state must fail loudly.
var ActiveFamily = []SubscriptionState{
	SubscriptionStateCancelledButActive,
	SubscriptionStateActive,
	SubscriptionStateSuspended,
}

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateTerminated:
		return "terminated"
	case SubscriptionStateCancelledButActive:
		return "cancelled_but_active"
	case SubscriptionStateActive:
		return "active"
	case SubscriptionStateSuspended:
		return "suspended"
	}
	return "unknown"
}

// InActiveFamily reports whether the state participates in the per-user
// exclusivity invariant.
func (s SubscriptionState) InActiveFamily() bool {
	switch s {
	case SubscriptionStateCancelledButActive, SubscriptionStateActive, SubscriptionStateSuspended:
		return true
	}
	return false
}

// CanTransitionTo checks state monotonicity: transitions only go to lower
// states, except the jump into Suspended from an active state.
func (s SubscriptionState) CanTransitionTo(next SubscriptionState) bool {
	if next == s {
		return true
	}
	if next == SubscriptionStateSuspended {
		return s == SubscriptionStateActive || s == SubscriptionStateCancelledButActive
	}
	if s == SubscriptionStateSuspended {
		return next == SubscriptionStateTerminated
	}
	return next < s
}

// Subscription is the auto-renewing wrapper around a chain of payments.
// Terminated rows are retained for audit and never deleted.
type Subscription struct {
	ID     string // UUID
	UserID string // UUID

	// ReferencePaymentID points at the payment that originated the
	// subscription and carries the provider-side chaining token. Immutable.
	ReferencePaymentID string
	// LastPaymentID advances to the most recent payment over time.
	LastPaymentID string

	State       SubscriptionState
	AmountCents int64 // the user may change this within configured bounds
	DebitPeriod DebitPeriod

	// NextDueDate is the date the next payment must be attempted. Only the
	// date part is meaningful.
	NextDueDate time.Time

	// HasProblems flags non-fatal payment trouble; the subscription stays
	// active while it is set.
	HasProblems bool
	// NumAttemptsRecurring counts consecutive failed booking attempts for
	// transient (provider-side) errors. Reset to zero on success.
	NumAttemptsRecurring int

	CreatedAt    time.Time
	CancelledAt  *time.Time
	TerminatedAt *time.Time
}

// NewSubscription creates an (unsaved, stateless) subscription derived from a
// reference payment. The caller decides state and next due date.
func NewSubscription(id string, payment *Payment) (*Subscription, error) {
	if id == "" || payment == nil || payment.UserID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:                 id,
		UserID:             payment.UserID,
		ReferencePaymentID: payment.ID,
		LastPaymentID:      payment.ID,
		AmountCents:        payment.AmountCents,
		DebitPeriod:        payment.DebitPeriod,
		CreatedAt:          time.Now(),
	}, nil
}

// PaymentDue reports whether the subscription is active and its next due date
// is today or in the past.
func (s *Subscription) PaymentDue(today time.Time) bool {
	if s.State != SubscriptionStateActive {
		return false
	}
	return !DateOf(s.NextDueDate).After(DateOf(today))
}

// AdvanceDueDate moves NextDueDate one debit period past the last target
// date, keeping the day-of-month of the reference payment's completion where
// the month allows it. Called after a payment has been made successfully.
func (s *Subscription) AdvanceDueDate(lastTarget time.Time, referenceDay int) {
	s.NextDueDate = NextPeriodDate(lastTarget, referenceDay, s.DebitPeriod.Months())
}

// DateOf truncates a timestamp to its date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextPeriodDate returns the date `months` months after target, with the day
// of month set to wantDay, clamped to the last valid day of a short month.
func NextPeriodDate(target time.Time, wantDay int, months int) time.Time {
	y, m, _ := target.UTC().Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	day := wantDay
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
