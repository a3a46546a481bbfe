// File: internal/usecase/sweep_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/metrics"
)

// Compile-time check
var _ SweepUseCase = (*sweepUC)(nil)

// SweepReport summarizes one due-date sweep.
type SweepReport struct {
	Terminated int // cancelled subscriptions whose paid-for time ran out
	Booked     int // recurring payments booked
}

// SweepUseCase walks every due subscription once. One broken subscription
// must never stop the rest of the sweep.
type SweepUseCase interface {
	RunOnce(ctx context.Context) (SweepReport, error)
}

type sweepUC struct {
	subs      repository.SubscriptionRepository
	payments  repository.PaymentRepository
	users     repository.UserRepository
	subUC     SubscriptionUseCase
	paymentUC PaymentUseCase
	notifier  adapter.OperatorNotifier
	txm       repository.TransactionManager

	settleGrace  time.Duration
	retryCeiling int
	batchSize    int

	log *zerolog.Logger
}

func NewSweepUseCase(
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	users repository.UserRepository,
	subUC SubscriptionUseCase,
	paymentUC PaymentUseCase,
	notifier adapter.OperatorNotifier,
	txm repository.TransactionManager,
	settleGrace time.Duration,
	retryCeiling int,
	batchSize int,
	logger *zerolog.Logger,
) *sweepUC {
	if retryCeiling <= 0 {
		retryCeiling = 3
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &sweepUC{
		subs:         subs,
		payments:     payments,
		users:        users,
		subUC:        subUC,
		paymentUC:    paymentUC,
		notifier:     notifier,
		txm:          txm,
		settleGrace:  settleGrace,
		retryCeiling: retryCeiling,
		batchSize:    batchSize,
		log:          logger,
	}
}

func (u *sweepUC) RunOnce(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	var report SweepReport

	due, err := u.subs.ListDue(ctx, repository.NoTX, start, u.batchSize)
	if err != nil {
		return report, err
	}

	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := u.sweepOne(ctx, sub, &report); err != nil {
			// Isolate the item; the rest of the sweep continues.
			metrics.IncSweepItemError()
			u.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("sweep item failed")
		}
	}

	metrics.ObserveSweepDuration(int(time.Since(start).Milliseconds()))
	metrics.AddSubscriptionsTerminated(report.Terminated)
	u.log.Info().Int("due", len(due)).Int("terminated", report.Terminated).
		Int("booked", report.Booked).Dur("took", time.Since(start)).
		Msg("due-date sweep finished")
	return report, nil
}

func (u *sweepUC) sweepOne(ctx context.Context, sub *model.Subscription, report *SweepReport) error {
	switch sub.State {
	case model.SubscriptionStateCancelledButActive:
		after, err := u.subUC.ValidateAndAdvance(ctx, repository.NoTX, sub.ID)
		if err != nil {
			return err
		}
		if after.State == model.SubscriptionStateTerminated {
			report.Terminated++
		}
		return nil

	case model.SubscriptionStateActive:
		return u.sweepActive(ctx, sub, report)

	default:
		// ListDue only returns states 1 and 2; anything else means the row
		// changed under us, which is fine.
		return nil
	}
}

func (u *sweepUC) sweepActive(ctx context.Context, sub *model.Subscription, report *SweepReport) error {
	// Never charge a deactivated account. The subscription itself is left
	// alone; it terminates through the normal cancel path.
	user, err := u.users.FindByID(ctx, repository.NoTX, sub.UserID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		u.log.Info().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).
			Msg("user account deactivated, booking skipped")
		return nil
	}

	last, err := u.payments.FindByID(ctx, repository.NoTX, sub.LastPaymentID)
	if err != nil {
		return err
	}
	if !last.Status.Finalized() {
		// A pending previous payment blocks the next booking. Young pendings
		// are normal (postback latency); old ones are stuck and need a human.
		if time.Since(last.LastActionAt) <= u.settleGrace {
			return nil
		}
		u.log.Error().Str("subscription_id", sub.ID).Str("payment_id", last.ID).
			Msg("previous payment stuck unconfirmed beyond the grace window")
		if u.notifier != nil {
			_ = u.notifier.NotifyOperators(ctx, "stuck pending payment",
				fmt.Sprintf("subscription %s cannot book: payment %s unconfirmed since %s",
					sub.ID, last.ID, last.LastActionAt.Format(time.RFC3339)))
		}
		return nil
	}

	if _, err := u.paymentUC.BookRecurring(ctx, sub); err != nil {
		return u.recordFailedAttempt(ctx, sub, err)
	}
	report.Booked++
	return nil
}

// recordFailedAttempt counts a failed booking and suspends the subscription
// once the ceiling is reached. State-guard violations stay fatal.
func (u *sweepUC) recordFailedAttempt(ctx context.Context, sub *model.Subscription, cause error) error {
	if errors.Is(cause, domain.ErrStateConflict) || errors.Is(cause, domain.ErrStateRegression) {
		return cause
	}

	var suspended bool
	err := u.txm.WithUserLock(ctx, sub.UserID, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.subs.FindByID(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if fresh.State != model.SubscriptionStateActive {
			return nil
		}
		fresh.NumAttemptsRecurring++
		fresh.HasProblems = true
		if fresh.NumAttemptsRecurring >= u.retryCeiling {
			fresh.State = model.SubscriptionStateSuspended
			suspended = true
		}
		return u.subs.Save(ctx, tx, fresh)
	})
	if err != nil {
		return err
	}

	if suspended {
		metrics.IncSubscriptionsSuspended()
		u.log.Warn().Err(cause).Str("subscription_id", sub.ID).
			Int("attempts", u.retryCeiling).Msg("subscription suspended after repeated booking failures")
		if u.notifier != nil {
			_ = u.notifier.NotifyOperators(ctx, "subscription suspended",
				fmt.Sprintf("subscription %s suspended after %d failed booking attempts: %v",
					sub.ID, u.retryCeiling, cause))
		}
	} else {
		u.log.Warn().Err(cause).Str("subscription_id", sub.ID).Msg("recurring booking failed, will retry next sweep")
	}
	return nil
}
