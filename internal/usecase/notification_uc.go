// File: internal/usecase/notification_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/metrics"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

// NotificationUseCase consumes asynchronous vendor postbacks. It is the only
// place provider status codes are interpreted.
type NotificationUseCase interface {
	// HandlePostback returns true only when the notification was fully
	// processed. The web layer answers 200 for true and 404 for false so the
	// provider retries everything else.
	HandlePostback(ctx context.Context, params map[string]string) bool
}

type notificationUC struct {
	gateway   adapter.PaymentGateway
	payments  repository.PaymentRepository
	logs      repository.TransactionLogRepository
	subUC     SubscriptionUseCase
	paymentUC PaymentUseCase
	notifier  adapter.OperatorNotifier

	// retryWait is how long to wait for the initiation transaction to land
	// when a postback outruns it. One retry only.
	retryWait time.Duration

	log *zerolog.Logger
}

func NewNotificationUseCase(
	gateway adapter.PaymentGateway,
	payments repository.PaymentRepository,
	logs repository.TransactionLogRepository,
	subUC SubscriptionUseCase,
	paymentUC PaymentUseCase,
	notifier adapter.OperatorNotifier,
	retryWait time.Duration,
	logger *zerolog.Logger,
) *notificationUC {
	if retryWait <= 0 {
		retryWait = 2 * time.Second
	}
	return &notificationUC{
		gateway:   gateway,
		payments:  payments,
		logs:      logs,
		subUC:     subUC,
		paymentUC: paymentUC,
		notifier:  notifier,
		retryWait: retryWait,
		log:       logger,
	}
}

func (u *notificationUC) HandlePostback(ctx context.Context, params map[string]string) bool {
	start := time.Now()
	defer func() {
		metrics.ObservePostbackLatency(int(time.Since(start).Milliseconds()))
	}()

	if err := u.gateway.VerifyNotification(params); err != nil {
		// Forensic trail for signature failures: keep the payload, never act
		// on it.
		u.log.Warn().Err(err).Msg("postback rejected: bad signature")
		u.appendLog(ctx, map[string]any{"rejected": "bad_signature", "params": redactParams(params)})
		metrics.IncPostback("bad_signature")
		return false
	}

	n, err := u.gateway.ParseNotification(params)
	if err != nil {
		u.log.Error().Err(err).Msg("postback rejected: unparseable")
		u.appendLog(ctx, map[string]any{"rejected": "unparseable", "params": redactParams(params)})
		metrics.IncPostback("error")
		return false
	}
	u.appendLog(ctx, n.Data)

	p, err := u.findPaymentWithRetry(ctx, n)
	if err != nil {
		u.log.Error().Str("vendor_transaction_id", n.VendorTransactionID).
			Str("order_id", n.OrderID).Msg("postback references no known payment")
		metrics.IncPostback("unmatched")
		return false
	}

	switch n.Status {
	case adapter.NotificationStatusPending:
		// Started/pending echoes carry no new information.
		metrics.IncPostback("handled")
		return true

	case adapter.NotificationStatusSucceeded:
		if p.VendorTransactionID == "" {
			p.VendorTransactionID = n.VendorTransactionID
			_ = u.payments.Save(ctx, repository.NoTX, p)
		}
		if err := u.paymentUC.HandleSuccessfulPayment(ctx, p.ID); err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("postback success handling failed")
			metrics.IncPostback("error")
			return false
		}
		metrics.IncPostback("handled")
		return true

	case adapter.NotificationStatusCanceled, adapter.NotificationStatusFailed:
		return u.handleFailed(ctx, p, n)

	case adapter.NotificationStatusRefunded:
		return u.handleRefunded(ctx, p, n)

	default:
		// An unknown vendor code is an operator problem, not a vendor-retry
		// problem: acknowledge so the provider stops hammering us.
		u.log.Error().Int("vendor_status", n.VendorStatusCode).Str("payment_id", p.ID).
			Msg("postback carries unknown status code")
		u.notify(ctx, "unknown postback status",
			fmt.Sprintf("payment %s received unknown vendor status %d", p.ID, n.VendorStatusCode))
		metrics.IncPostback("handled")
		return true
	}
}

func (u *notificationUC) handleFailed(ctx context.Context, p *model.Payment, n *adapter.Notification) bool {
	if p.Status.Finalized() {
		metrics.IncPostback("handled")
		return true
	}
	if n.Status == adapter.NotificationStatusCanceled {
		p.Status = model.PaymentStatusCanceled
	} else {
		p.Status = model.PaymentStatusFailed
	}
	p.LastActionAt = time.Now()
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		metrics.IncPostback("error")
		return false
	}
	metrics.IncPayment(string(p.Method), p.Status.String())

	// A declined recurring charge is authoritative, unlike a transient
	// booking error: suspend right away instead of burning retries.
	if !p.IsReferencePayment && p.SubscriptionID != nil {
		if _, err := u.subUC.Suspend(ctx, repository.NoTX, *p.SubscriptionID, p.ID); err != nil {
			u.log.Error().Err(err).Str("subscription_id", *p.SubscriptionID).Msg("suspend after declined recurring payment failed")
			metrics.IncPostback("error")
			return false
		}
		metrics.IncSubscriptionsSuspended()
	}
	if p.IsReferencePayment && p.SubscriptionID != nil {
		// Reference payment failed after the subscription had been created:
		// the subscription never had a valid mandate, end it.
		if _, err := u.subUC.Terminate(ctx, repository.NoTX, *p.SubscriptionID); err != nil {
			u.log.Error().Err(err).Str("subscription_id", *p.SubscriptionID).Msg("terminating nascent subscription failed")
		}
	}
	u.log.Info().Str("payment_id", p.ID).Str("status", p.Status.String()).Msg("postback finalized payment as failed")
	metrics.IncPostback("handled")
	return true
}

func (u *notificationUC) handleRefunded(ctx context.Context, p *model.Payment, n *adapter.Notification) bool {
	if p.Status == model.PaymentStatusRetracted {
		metrics.IncPostback("handled")
		return true
	}
	p.Status = model.PaymentStatusRetracted
	p.LastActionAt = time.Now()
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		metrics.IncPostback("error")
		return false
	}
	metrics.IncPayment(string(p.Method), "retracted")

	if p.SubscriptionID != nil {
		if _, err := u.subUC.Suspend(ctx, repository.NoTX, *p.SubscriptionID, p.ID); err != nil {
			u.log.Error().Err(err).Str("subscription_id", *p.SubscriptionID).Msg("suspend after refund failed")
			metrics.IncPostback("error")
			return false
		}
		metrics.IncSubscriptionsSuspended()
	}
	// Refunds need a manual accounting reversal that no code path performs.
	u.notify(ctx, "payment refunded",
		fmt.Sprintf("payment %s (user %s, %d %s) was refunded or charged back, vendor status %d",
			p.ID, p.UserID, p.AmountCents, p.Currency, n.VendorStatusCode))
	u.log.Warn().Str("payment_id", p.ID).Int("vendor_status", n.VendorStatusCode).Msg("payment retracted")
	metrics.IncPostback("handled")
	return true
}

// findPaymentWithRetry resolves the payment a postback refers to. Providers
// occasionally fire the postback before our initiation transaction commits,
// so a miss is retried once after a short wait.
func (u *notificationUC) findPaymentWithRetry(ctx context.Context, n *adapter.Notification) (*model.Payment, error) {
	p, err := u.payments.FindByTransaction(ctx, repository.NoTX, n.VendorTransactionID, n.OrderID)
	if err == nil {
		return p, nil
	}
	if n.OrderID != "" {
		if p, err2 := u.payments.FindByOrderID(ctx, repository.NoTX, n.OrderID); err2 == nil {
			return p, nil
		}
	}
	if err != domain.ErrNotFound {
		return nil, err
	}

	metrics.IncPostbackRetry()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(u.retryWait):
	}
	if p, err := u.payments.FindByTransaction(ctx, repository.NoTX, n.VendorTransactionID, n.OrderID); err == nil {
		return p, nil
	}
	return u.payments.FindByOrderID(ctx, repository.NoTX, n.OrderID)
}

func (u *notificationUC) appendLog(ctx context.Context, data map[string]any) {
	entry := &model.TransactionLog{
		ID:        uuid.NewString(),
		Type:      model.TransactionLogPostback,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := u.logs.Append(ctx, repository.NoTX, entry); err != nil {
		u.log.Error().Err(err).Msg("could not append transaction log entry")
	}
}

func (u *notificationUC) notify(ctx context.Context, subject, message string) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.NotifyOperators(ctx, subject, message); err != nil {
		u.log.Error().Err(err).Msg("operator notification failed")
	}
}

// sensitiveParams never reach a log or the database in cleartext.
var sensitiveParams = map[string]bool{
	"card_brand":        true,
	"card_last_four":    true,
	"card_expiry_year":  true,
	"card_expiry_month": true,
	"bic":               true,
	"iban":              true,
	"account_holder":    true,
}

func redactParams(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveParams[k] {
			continue
		}
		out[k] = v
	}
	return out
}
