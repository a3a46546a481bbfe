//go:build !integration

package web

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/usecase"
)

var (
	_ usecase.PaymentUseCase      = (*mockPaymentUC)(nil)
	_ usecase.SubscriptionUseCase = (*mockSubUC)(nil)
	_ usecase.NotificationUseCase = (*mockNotifUC)(nil)
	_ usecase.StatsUseCase        = (*mockStatsUC)(nil)
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// --- Mock use cases ---

type mockPaymentUC struct {
	InitiateFunc         func(ctx context.Context, userID string, req adapter.InitiateRequest) (*model.Payment, string, error)
	HandleSuccessFunc    func(ctx context.Context, paymentID string) error
	BookRecurringFunc    func(ctx context.Context, sub *model.Subscription) (*model.Payment, error)
	ValidateRedirectFunc func(ctx context.Context, params map[string]string, kind adapter.RedirectKind) (*model.Payment, error)
}

func (m *mockPaymentUC) InitiatePayment(ctx context.Context, userID string, req adapter.InitiateRequest) (*model.Payment, string, error) {
	return m.InitiateFunc(ctx, userID, req)
}

func (m *mockPaymentUC) HandleSuccessfulPayment(ctx context.Context, paymentID string) error {
	if m.HandleSuccessFunc != nil {
		return m.HandleSuccessFunc(ctx, paymentID)
	}
	return nil
}

func (m *mockPaymentUC) BookRecurring(ctx context.Context, sub *model.Subscription) (*model.Payment, error) {
	return m.BookRecurringFunc(ctx, sub)
}

func (m *mockPaymentUC) ValidateRedirect(ctx context.Context, params map[string]string, kind adapter.RedirectKind) (*model.Payment, error) {
	return m.ValidateRedirectFunc(ctx, params, kind)
}

type mockSubUC struct {
	CancelFunc       func(ctx context.Context, userID string) (*model.Subscription, error)
	ChangeAmountFunc func(ctx context.Context, userID string, amountCents int64) (*model.Subscription, error)
	CurrentFunc      func(ctx context.Context, userID string) (*model.Subscription, error)
}

func (m *mockSubUC) CreateOrReplaceForPayment(ctx context.Context, tx repository.Tx, payment *model.Payment) (*model.Subscription, error) {
	panic("not used by the web layer")
}

func (m *mockSubUC) Cancel(ctx context.Context, userID string) (*model.Subscription, error) {
	return m.CancelFunc(ctx, userID)
}

func (m *mockSubUC) ChangeAmount(ctx context.Context, userID string, amountCents int64) (*model.Subscription, error) {
	return m.ChangeAmountFunc(ctx, userID, amountCents)
}

func (m *mockSubUC) Suspend(ctx context.Context, tx repository.Tx, subID string, lastPaymentID string) (*model.Subscription, error) {
	panic("not used by the web layer")
}

func (m *mockSubUC) AdvanceForRecurring(ctx context.Context, tx repository.Tx, subID string, payment *model.Payment) (*model.Subscription, error) {
	panic("not used by the web layer")
}

func (m *mockSubUC) ValidateAndAdvance(ctx context.Context, tx repository.Tx, subID string) (*model.Subscription, error) {
	panic("not used by the web layer")
}

func (m *mockSubUC) Terminate(ctx context.Context, tx repository.Tx, subID string) (*model.Subscription, error) {
	panic("not used by the web layer")
}

func (m *mockSubUC) Current(ctx context.Context, userID string) (*model.Subscription, error) {
	return m.CurrentFunc(ctx, userID)
}

type mockNotifUC struct {
	HandleFunc func(ctx context.Context, params map[string]string) bool
	LastParams map[string]string
}

func (m *mockNotifUC) HandlePostback(ctx context.Context, params map[string]string) bool {
	m.LastParams = params
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, params)
	}
	return true
}

type mockStatsUC struct {
	TotalsFunc  func(ctx context.Context) (map[model.SubscriptionState]int, int, error)
	RevenueFunc func(ctx context.Context) (int64, int64, int64, error)
}

func (m *mockStatsUC) Totals(ctx context.Context) (map[model.SubscriptionState]int, int, error) {
	if m.TotalsFunc != nil {
		return m.TotalsFunc(ctx)
	}
	return map[model.SubscriptionState]int{model.SubscriptionStateActive: 2}, 1, nil
}

func (m *mockStatsUC) Revenue(ctx context.Context) (int64, int64, int64, error) {
	if m.RevenueFunc != nil {
		return m.RevenueFunc(ctx)
	}
	return 100, 400, 4800, nil
}

type mockUserRepo struct {
	FindFunc func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, tx, id)
	}
	return &model.User{ID: id, Email: "user@example.org", IsActive: true}, nil
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

// --- Fixtures ---

func activeSubscription(userID string) *model.Subscription {
	return &model.Subscription{
		ID:          "sub-1",
		UserID:      userID,
		State:       model.SubscriptionStateActive,
		AmountCents: 500,
		DebitPeriod: model.DebitPeriodMonthly,
		NextDueDate: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

type serverDeps struct {
	payUC   *mockPaymentUC
	subUC   *mockSubUC
	notifUC *mockNotifUC
	stats   *mockStatsUC
	users   *mockUserRepo
	auth    *AuthManager
	server  *Server
}

func newTestServer(t *testing.T) *serverDeps {
	t.Helper()
	auth, err := NewAuthManager(config.AdminConfig{JWTSecret: "test-secret"}, 10*time.Minute)
	if err != nil {
		t.Fatalf("NewAuthManager failed: %v", err)
	}
	deps := &serverDeps{
		payUC:   &mockPaymentUC{},
		subUC:   &mockSubUC{},
		notifUC: &mockNotifUC{},
		stats:   &mockStatsUC{},
		users:   &mockUserRepo{},
		auth:    auth,
	}
	deps.server, err = NewServer(config.WebConfig{
		Port:        0,
		BaseURL:     "https://pay.example.org",
		SuccessPath: "/payment/success",
		ErrorPath:   "/payment/error",
	}, deps.payUC, deps.subUC, deps.notifUC, deps.stats, deps.users, auth, testLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return deps
}
