// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionUseCase implements the subscription lifecycle. All writes go
// through TxManager.WithUserLock so concurrent writers for one user
// serialize; methods that accept a tx join the caller's transaction instead
// of opening their own when a live handle is passed.
type SubscriptionUseCase interface {
	// CreateOrReplaceForPayment derives a subscription from a paid reference
	// payment. An existing subscription for the user is terminated and its
	// due date carried over; a suspended one is terminated unconditionally.
	CreateOrReplaceForPayment(ctx context.Context, tx repository.Tx, payment *model.Payment) (*model.Subscription, error)
	// Cancel moves the user's active subscription to CANCELLED_BUT_ACTIVE.
	// The due date is untouched; paid-for time keeps running.
	Cancel(ctx context.Context, userID string) (*model.Subscription, error)
	// ChangeAmount updates the recurring amount within configured bounds.
	ChangeAmount(ctx context.Context, userID string, amountCents int64) (*model.Subscription, error)
	// Suspend parks a troubled subscription. Idempotent outside
	// Active/CancelledButActive.
	Suspend(ctx context.Context, tx repository.Tx, subID string, lastPaymentID string) (*model.Subscription, error)
	// AdvanceForRecurring records a successfully booked recurring payment:
	// due date forward one period, attempt counter reset.
	AdvanceForRecurring(ctx context.Context, tx repository.Tx, subID string, payment *model.Payment) (*model.Subscription, error)
	// ValidateAndAdvance terminates a cancelled subscription whose paid-for
	// time has run out. Any other state is left alone.
	ValidateAndAdvance(ctx context.Context, tx repository.Tx, subID string) (*model.Subscription, error)
	// Terminate ends a subscription outright, regardless of remaining
	// paid-for time. Used when its reference payment turns out to be bad.
	Terminate(ctx context.Context, tx repository.Tx, subID string) (*model.Subscription, error)
	// Current returns the user's subscription in the active family, if any.
	Current(ctx context.Context, userID string) (*model.Subscription, error)
}

type subscriptionUC struct {
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	txm      repository.TransactionManager
	notifier adapter.OperatorNotifier

	minAmountCents int64
	maxAmountCents int64

	log *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	txm repository.TransactionManager,
	notifier adapter.OperatorNotifier,
	minAmountCents, maxAmountCents int64,
	logger *zerolog.Logger,
) *subscriptionUC {
	return &subscriptionUC{
		subs:           subs,
		payments:       payments,
		txm:            txm,
		notifier:       notifier,
		minAmountCents: minAmountCents,
		maxAmountCents: maxAmountCents,
		log:            logger,
	}
}

func (u *subscriptionUC) CreateOrReplaceForPayment(ctx context.Context, tx repository.Tx, payment *model.Payment) (*model.Subscription, error) {
	if payment == nil || payment.Status != model.PaymentStatusPaid || payment.CompletedAt == nil {
		return nil, domain.ErrInvalidArgument
	}
	if tx != nil {
		return u.createOrReplace(ctx, tx, payment)
	}
	var out *model.Subscription
	err := u.txm.WithUserLock(ctx, payment.UserID, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.createOrReplace(ctx, tx, payment)
		out = s
		return err
	})
	return out, err
}

func (u *subscriptionUC) createOrReplace(ctx context.Context, tx repository.Tx, payment *model.Payment) (*model.Subscription, error) {
	now := time.Now()

	// A suspended subscription is dead weight once the user pays again:
	// terminate it before anything else so the exclusivity check is clean.
	if suspended, err := u.subs.FindSuspendedByUser(ctx, tx, payment.UserID); err == nil {
		suspended.State = model.SubscriptionStateTerminated
		suspended.TerminatedAt = &now
		if err := u.subs.Save(ctx, tx, suspended); err != nil {
			return nil, err
		}
		u.log.Info().Str("subscription_id", suspended.ID).Msg("terminated suspended subscription before replacement")
	} else if err != domain.ErrNotFound {
		return nil, err
	}

	active, errA := u.subs.FindActiveByUser(ctx, tx, payment.UserID)
	if errA != nil && errA != domain.ErrNotFound {
		return nil, errA
	}
	cancelled, errC := u.subs.FindCancelledByUser(ctx, tx, payment.UserID)
	if errC != nil && errC != domain.ErrNotFound {
		return nil, errC
	}

	if active != nil && cancelled != nil {
		// Cannot happen while the persistence guard holds. Treat it as data
		// corruption, not as something to silently repair.
		u.log.Error().Str("user_id", payment.UserID).Msg("user holds both an active and a cancelled subscription")
		if u.notifier != nil {
			_ = u.notifier.NotifyOperators(ctx, "subscription state corruption",
				"user "+payment.UserID+" holds both an active and a cancelled subscription")
		}
		return nil, domain.ErrStateConflict
	}

	sub, err := model.NewSubscription(uuid.NewString(), payment)
	if err != nil {
		return nil, err
	}
	sub.State = model.SubscriptionStateActive

	old := active
	if old == nil {
		old = cancelled
	}
	if old != nil {
		// Replacement keeps the paid-for time: the new subscription inherits
		// the old one's due date rather than restarting the period.
		sub.NextDueDate = old.NextDueDate
		old.State = model.SubscriptionStateTerminated
		old.TerminatedAt = &now
		if err := u.subs.Save(ctx, tx, old); err != nil {
			return nil, err
		}
	} else {
		completed := *payment.CompletedAt
		sub.NextDueDate = model.NextPeriodDate(completed, completed.UTC().Day(), sub.DebitPeriod.Months())
	}

	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}

	payment.SubscriptionID = &sub.ID
	payment.LastActionAt = now
	if err := u.payments.Save(ctx, tx, payment); err != nil {
		return nil, err
	}

	u.log.Info().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).
		Bool("replacement", old != nil).Time("next_due", sub.NextDueDate).
		Msg("subscription created")
	return sub, nil
}

func (u *subscriptionUC) Cancel(ctx context.Context, userID string) (*model.Subscription, error) {
	var out *model.Subscription
	err := u.txm.WithUserLock(ctx, userID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindActiveByUser(ctx, tx, userID)
		if err == domain.ErrNotFound {
			return domain.ErrNoActiveSubscription
		}
		if err != nil {
			return err
		}
		now := time.Now()
		sub.State = model.SubscriptionStateCancelledButActive
		sub.CancelledAt = &now
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err == nil {
		u.log.Info().Str("subscription_id", out.ID).Str("user_id", userID).Msg("subscription cancelled")
	}
	return out, err
}

func (u *subscriptionUC) ChangeAmount(ctx context.Context, userID string, amountCents int64) (*model.Subscription, error) {
	if amountCents < u.minAmountCents || amountCents > u.maxAmountCents {
		return nil, domain.ErrAmountOutOfRange
	}
	var out *model.Subscription
	err := u.txm.WithUserLock(ctx, userID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindActiveByUser(ctx, tx, userID)
		if err == domain.ErrNotFound {
			return domain.ErrNoActiveSubscription
		}
		if err != nil {
			return err
		}
		sub.AmountCents = amountCents
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err == nil {
		u.log.Info().Str("subscription_id", out.ID).Int64("amount_cents", amountCents).Msg("subscription amount changed")
	}
	return out, err
}

func (u *subscriptionUC) Suspend(ctx context.Context, tx repository.Tx, subID string, lastPaymentID string) (*model.Subscription, error) {
	if tx != nil {
		return u.suspend(ctx, tx, subID, lastPaymentID)
	}
	sub, err := u.subs.FindByID(ctx, repository.NoTX, subID)
	if err != nil {
		return nil, err
	}
	var out *model.Subscription
	err = u.txm.WithUserLock(ctx, sub.UserID, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.suspend(ctx, tx, subID, lastPaymentID)
		out = s
		return err
	})
	return out, err
}

func (u *subscriptionUC) suspend(ctx context.Context, tx repository.Tx, subID string, lastPaymentID string) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, tx, subID)
	if err != nil {
		return nil, err
	}
	switch sub.State {
	case model.SubscriptionStateActive, model.SubscriptionStateCancelledButActive:
	default:
		return sub, nil // idempotent
	}
	sub.State = model.SubscriptionStateSuspended
	sub.HasProblems = true
	if lastPaymentID != "" {
		sub.LastPaymentID = lastPaymentID
	}
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	u.log.Warn().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("subscription suspended")
	return sub, nil
}

func (u *subscriptionUC) AdvanceForRecurring(ctx context.Context, tx repository.Tx, subID string, payment *model.Payment) (*model.Subscription, error) {
	if payment == nil || payment.CompletedAt == nil {
		return nil, domain.ErrInvalidArgument
	}
	if tx != nil {
		return u.advance(ctx, tx, subID, payment)
	}
	var out *model.Subscription
	err := u.txm.WithUserLock(ctx, payment.UserID, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.advance(ctx, tx, subID, payment)
		out = s
		return err
	})
	return out, err
}

func (u *subscriptionUC) advance(ctx context.Context, tx repository.Tx, subID string, payment *model.Payment) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, tx, subID)
	if err != nil {
		return nil, err
	}

	// The next target always derives from the previous target, never from
	// when the money actually arrived; delays must not drift the cycle.
	referenceDay := u.referenceDay(ctx, tx, sub)
	sub.AdvanceDueDate(sub.NextDueDate, referenceDay)
	sub.LastPaymentID = payment.ID
	sub.NumAttemptsRecurring = 0
	sub.HasProblems = false
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}

	payment.SubscriptionID = &sub.ID
	payment.LastActionAt = time.Now()
	if err := u.payments.Save(ctx, tx, payment); err != nil {
		return nil, err
	}

	u.log.Info().Str("subscription_id", sub.ID).Time("next_due", sub.NextDueDate).Msg("subscription advanced after booking")
	return sub, nil
}

// referenceDay is the day-of-month of the reference payment's completion,
// restored after clamped short months. Falls back to the current target's day
// when the reference payment is unreadable.
func (u *subscriptionUC) referenceDay(ctx context.Context, tx repository.Tx, sub *model.Subscription) int {
	ref, err := u.payments.FindByID(ctx, tx, sub.ReferencePaymentID)
	if err != nil || ref.CompletedAt == nil {
		return sub.NextDueDate.UTC().Day()
	}
	return ref.CompletedAt.UTC().Day()
}

func (u *subscriptionUC) ValidateAndAdvance(ctx context.Context, tx repository.Tx, subID string) (*model.Subscription, error) {
	if tx != nil {
		return u.validateAndAdvance(ctx, tx, subID)
	}
	sub, err := u.subs.FindByID(ctx, repository.NoTX, subID)
	if err != nil {
		return nil, err
	}
	var out *model.Subscription
	err = u.txm.WithUserLock(ctx, sub.UserID, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.validateAndAdvance(ctx, tx, subID)
		out = s
		return err
	})
	return out, err
}

func (u *subscriptionUC) validateAndAdvance(ctx context.Context, tx repository.Tx, subID string) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, tx, subID)
	if err != nil {
		return nil, err
	}
	if sub.State != model.SubscriptionStateCancelledButActive {
		return sub, nil
	}
	if model.DateOf(sub.NextDueDate).After(model.DateOf(time.Now())) {
		return sub, nil // paid-for time still running
	}
	now := time.Now()
	sub.State = model.SubscriptionStateTerminated
	sub.TerminatedAt = &now
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	u.log.Info().Str("subscription_id", sub.ID).Msg("cancelled subscription terminated at end of paid period")
	return sub, nil
}

func (u *subscriptionUC) Terminate(ctx context.Context, tx repository.Tx, subID string) (*model.Subscription, error) {
	if tx != nil {
		return u.terminate(ctx, tx, subID)
	}
	sub, err := u.subs.FindByID(ctx, repository.NoTX, subID)
	if err != nil {
		return nil, err
	}
	var out *model.Subscription
	err = u.txm.WithUserLock(ctx, sub.UserID, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.terminate(ctx, tx, subID)
		out = s
		return err
	})
	return out, err
}

func (u *subscriptionUC) terminate(ctx context.Context, tx repository.Tx, subID string) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, tx, subID)
	if err != nil {
		return nil, err
	}
	if sub.State == model.SubscriptionStateTerminated {
		return sub, nil
	}
	now := time.Now()
	sub.State = model.SubscriptionStateTerminated
	sub.TerminatedAt = &now
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	u.log.Warn().Str("subscription_id", sub.ID).Msg("subscription terminated")
	return sub, nil
}

func (u *subscriptionUC) Current(ctx context.Context, userID string) (*model.Subscription, error) {
	for _, find := range []func(context.Context, repository.Tx, string) (*model.Subscription, error){
		u.subs.FindActiveByUser,
		u.subs.FindCancelledByUser,
		u.subs.FindSuspendedByUser,
	} {
		sub, err := find(ctx, repository.NoTX, userID)
		if err == nil {
			return sub, nil
		}
		if err != domain.ErrNotFound {
			return nil, err
		}
	}
	return nil, domain.ErrNotFound
}
