// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// RateLimiter throttles payment initiations per user.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitKey builds the limiter key for a user's payment initiations.
func RateLimitKey(userID string) string { return "rate_limit:payment:" + userID }

type PaymentUseCase interface {
	// InitiatePayment starts a new reference payment with the provider and
	// returns the saved record plus a redirect URL for redirecting methods
	// (empty otherwise).
	InitiatePayment(ctx context.Context, userID string, req adapter.InitiateRequest) (*model.Payment, string, error)
	// HandleSuccessfulPayment is the single entry point for "this payment is
	// now paid". Idempotent: a payment that is already paid and attached is
	// left alone.
	HandleSuccessfulPayment(ctx context.Context, paymentID string) error
	// BookRecurring charges the next cycle of an active subscription.
	BookRecurring(ctx context.Context, sub *model.Subscription) (*model.Payment, error)
	// ValidateRedirect authenticates a success/error redirect from the
	// provider and moves the referenced payment along.
	ValidateRedirect(ctx context.Context, params map[string]string, kind adapter.RedirectKind) (*model.Payment, error)
}

type paymentUC struct {
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	subUC    SubscriptionUseCase
	gateway  adapter.PaymentGateway
	invoice  adapter.InvoiceBackend
	notifier adapter.OperatorNotifier
	limiter  RateLimiter
	txm      repository.TransactionManager

	cfg config.PaymentsConfig
	log *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	subUC SubscriptionUseCase,
	gateway adapter.PaymentGateway,
	invoice adapter.InvoiceBackend,
	notifier adapter.OperatorNotifier,
	limiter RateLimiter,
	txm repository.TransactionManager,
	cfg config.PaymentsConfig,
	logger *zerolog.Logger,
) *paymentUC {
	return &paymentUC{
		payments: payments,
		subs:     subs,
		subUC:    subUC,
		gateway:  gateway,
		invoice:  invoice,
		notifier: notifier,
		limiter:  limiter,
		txm:      txm,
		cfg:      cfg,
		log:      logger,
	}
}

func (u *paymentUC) InitiatePayment(ctx context.Context, userID string, req adapter.InitiateRequest) (*model.Payment, string, error) {
	if req.AmountCents < u.cfg.MinimumCents || req.AmountCents > u.cfg.MaximumCents {
		return nil, "", domain.ErrAmountOutOfRange
	}
	if req.Postpone && !u.cfg.AllowPostponed {
		return nil, "", domain.ErrPostponedDisabled
	}
	if u.limiter != nil {
		ok, err := u.limiter.Allow(ctx, RateLimitKey(userID), u.cfg.RatePerMinute, time.Minute)
		if err != nil {
			u.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !ok {
			return nil, "", domain.ErrRateLimited
		}
	}
	if err := u.prePaymentSafetyChecks(ctx, userID, req.AmountCents); err != nil {
		return nil, "", err
	}

	req.UserID = userID
	p, err := u.gateway.InitiatePayment(ctx, req)
	if err != nil {
		return nil, "", err
	}
	p.Backend = u.gateway.Name()
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, "", err
	}
	metrics.IncPayment(string(p.Method), "initiated")
	u.log.Info().Str("payment_id", p.ID).Str("order_id", p.OrderID).
		Str("method", string(p.Method)).Int64("amount_cents", p.AmountCents).
		Msg("payment initiated")

	redirectURL, _ := p.ExtraData["redirect_url"].(string)

	// Methods the provider settles at submission time (direct debit) never
	// produce a success postback worth waiting for.
	if !req.Postpone && u.instantSettle(p.Method) {
		if err := u.HandleSuccessfulPayment(ctx, p.ID); err != nil {
			return nil, "", err
		}
		refreshed, err := u.payments.FindByID(ctx, repository.NoTX, p.ID)
		if err == nil {
			p = refreshed
		}
	}
	return p, redirectURL, nil
}

func (u *paymentUC) instantSettle(method model.PaymentMethod) bool {
	for _, m := range u.cfg.InstantMethods {
		if model.PaymentMethod(m) == method {
			return true
		}
	}
	return false
}

// prePaymentSafetyChecks refuses bookings that look like duplicates or
// runaway charges: one paid payment inside the guard window, or a rolling-sum
// above the configured maximum.
func (u *paymentUC) prePaymentSafetyChecks(ctx context.Context, userID string, amountCents int64) error {
	now := time.Now()
	n, err := u.payments.CountPaidSince(ctx, repository.NoTX, userID, now.Add(-u.cfg.RecentPaidGuard))
	if err != nil {
		return err
	}
	if n > 0 {
		u.log.Error().Str("user_id", userID).Int("recent_paid", n).Msg("payment refused: user paid within the guard window")
		return domain.ErrPaymentSafetyCheck
	}
	sum, err := u.payments.SumPaidSince(ctx, repository.NoTX, userID, now.Add(-u.cfg.SumWindow))
	if err != nil {
		return err
	}
	if sum+amountCents > u.cfg.MaximumCents {
		u.log.Error().Str("user_id", userID).Int64("window_sum_cents", sum).Msg("payment refused: rolling sum above maximum")
		return domain.ErrPaymentSafetyCheck
	}
	return nil
}

func (u *paymentUC) HandleSuccessfulPayment(ctx context.Context, paymentID string) error {
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return err
	}

	var paid *model.Payment
	err = u.txm.WithUserLock(ctx, p.UserID, func(ctx context.Context, tx repository.Tx) error {
		stored, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		now := time.Now()
		if !stored.MarkPaid(now) {
			// Duplicate success for an already-paid payment: no side effects.
			u.log.Info().Str("payment_id", stored.ID).Msg("duplicate success for paid payment, ignoring")
			return nil
		}
		if err := u.payments.Save(ctx, tx, stored); err != nil {
			return err
		}

		if stored.IsReferencePayment {
			if _, err := u.subUC.CreateOrReplaceForPayment(ctx, tx, stored); err != nil {
				return err
			}
		} else if stored.SubscriptionID != nil {
			if _, err := u.subUC.AdvanceForRecurring(ctx, tx, *stored.SubscriptionID, stored); err != nil {
				return err
			}
		}
		paid = stored
		return nil
	})
	if err != nil || paid == nil {
		return err
	}

	metrics.IncPayment(string(paid.Method), "paid")
	metrics.AddPaymentRevenue(paid.Currency, paid.AmountCents)

	// Invoice generation is best-effort and must never fail the payment.
	if u.invoice != nil {
		go func(p model.Payment) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := u.invoice.CreateInvoiceForPayment(ctx, &p); err != nil {
				u.log.Error().Err(err).Str("payment_id", p.ID).Msg("invoice backend failed")
			}
		}(*paid)
	}
	return nil
}

func (u *paymentUC) BookRecurring(ctx context.Context, sub *model.Subscription) (*model.Payment, error) {
	if sub.State != model.SubscriptionStateActive {
		return nil, domain.ErrInvalidArgument
	}
	if err := u.prePaymentSafetyChecks(ctx, sub.UserID, sub.AmountCents); err != nil {
		return nil, err
	}

	ref, err := u.payments.FindByID(ctx, repository.NoTX, sub.ReferencePaymentID)
	if err != nil {
		return nil, err
	}
	last, err := u.payments.FindByID(ctx, repository.NoTX, sub.LastPaymentID)
	if err != nil {
		return nil, err
	}
	if !last.Status.Finalized() {
		return nil, domain.ErrPaymentPending
	}

	p, err := u.gateway.MakeRecurringPayment(ctx, ref, sub, last)
	if err != nil {
		metrics.IncRecurringAttempt("failed")
		return nil, err
	}
	p.Backend = u.gateway.Name()
	p.SubscriptionID = &sub.ID
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	metrics.IncRecurringAttempt("booked")
	u.log.Info().Str("payment_id", p.ID).Str("subscription_id", sub.ID).
		Int64("amount_cents", p.AmountCents).Msg("recurring payment booked")

	// The booked payment becomes the subscription's last payment right away,
	// settled or not. Until it finalizes it must be what the next sweep's
	// pending check reads, or that sweep books a second charge.
	err = u.txm.WithUserLock(ctx, sub.UserID, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.subs.FindByID(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		fresh.LastPaymentID = p.ID
		return u.subs.Save(ctx, tx, fresh)
	})
	if err != nil {
		return nil, err
	}
	sub.LastPaymentID = p.ID

	if u.instantSettle(p.Method) {
		if err := u.HandleSuccessfulPayment(ctx, p.ID); err != nil {
			return nil, err
		}
		refreshed, err := u.payments.FindByID(ctx, repository.NoTX, p.ID)
		if err == nil {
			p = refreshed
		}
	}
	return p, nil
}

func (u *paymentUC) ValidateRedirect(ctx context.Context, params map[string]string, kind adapter.RedirectKind) (*model.Payment, error) {
	orderID, err := u.gateway.ValidateRedirect(params, kind)
	if err != nil {
		u.log.Warn().Err(err).Msg("redirect validation failed")
		return nil, err
	}
	p, err := u.payments.FindByOrderID(ctx, repository.NoTX, orderID)
	if err != nil {
		return nil, err
	}

	switch kind {
	case adapter.RedirectSuccess:
		// The money is not confirmed yet; the postback does that. The
		// redirect only proves the user came back from the provider.
		if p.Status == model.PaymentStatusStarted {
			p.Status = model.PaymentStatusUnconfirmed
			p.LastActionAt = time.Now()
			if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
				return nil, err
			}
		}
	case adapter.RedirectError:
		if p.Status == model.PaymentStatusStarted {
			p.Status = model.PaymentStatusFailed
			p.LastActionAt = time.Now()
			if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
				return nil, err
			}
			metrics.IncPayment(string(p.Method), "failed")
		}
	}
	return p, nil
}
