package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for tests and local development.
// It accepts every request and settles nothing on its own; postbacks can be
// simulated by calling HandlePostback with params this gateway considers
// signed (checksum "ok").
type NoopPaymentGateway struct {
	mu  sync.Mutex
	seq int64
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

func (g *NoopPaymentGateway) InitiatePayment(ctx context.Context, req adapter.InitiateRequest) (*model.Payment, error) {
	p, err := model.NewPayment(uuid.NewString(), req.UserID, uuid.NewString(), req.Method, req.AmountCents, req.Billing)
	if err != nil {
		return nil, err
	}
	p.VendorTransactionID = g.next()
	p.DebitPeriod = req.DebitPeriod
	p.IsPostponed = req.Postpone
	p.Backend = g.Name()
	if model.RedirectingMethods[req.Method] {
		p.ExtraData["redirect_url"] = "https://pay.example.test/" + p.VendorTransactionID
	}
	return p, nil
}

func (g *NoopPaymentGateway) MakeRecurringPayment(ctx context.Context, ref *model.Payment, sub *model.Subscription, lastPayment *model.Payment) (*model.Payment, error) {
	if sub == nil || sub.State != model.SubscriptionStateActive {
		return nil, domain.ErrInvalidArgument
	}
	if lastPayment != nil && !lastPayment.Status.Finalized() {
		return nil, domain.ErrPaymentPending
	}
	p, err := model.NewPayment(uuid.NewString(), ref.UserID, uuid.NewString(), ref.Method, sub.AmountCents, ref.Billing)
	if err != nil {
		return nil, err
	}
	p.VendorTransactionID = g.next()
	p.DebitPeriod = sub.DebitPeriod
	p.IsReferencePayment = false
	p.SubscriptionID = &sub.ID
	p.Backend = g.Name()
	p.LastActionAt = time.Now()
	return p, nil
}

func (g *NoopPaymentGateway) VerifyNotification(params map[string]string) error {
	if params["checksum"] != "ok" {
		return domain.ErrBadSignature
	}
	return nil
}

func (g *NoopPaymentGateway) ParseNotification(params map[string]string) (*adapter.Notification, error) {
	n := &adapter.Notification{
		VendorTransactionID: params["transaction_id"],
		OrderID:             params["order_id"],
		Data:                map[string]any{"noop": true, "order_id": params["order_id"]},
	}
	switch params["status"] {
	case "success":
		n.Status = adapter.NotificationStatusSucceeded
	case "failed":
		n.Status = adapter.NotificationStatusFailed
	case "refunded":
		n.Status = adapter.NotificationStatusRefunded
	default:
		n.Status = adapter.NotificationStatusPending
	}
	return n, nil
}

func (g *NoopPaymentGateway) ValidateRedirect(params map[string]string, kind adapter.RedirectKind) (string, error) {
	if params["checksum"] != "ok" {
		return "", domain.ErrBadSignature
	}
	return params["order_id"], nil
}
