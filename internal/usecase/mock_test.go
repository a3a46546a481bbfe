//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func ptr[T any](v T) *T { return &v }

func paidReferencePayment(userID string, amountCents int64) *model.Payment {
	p, _ := model.NewPayment(uuid.NewString(), userID, uuid.NewString(), model.PaymentMethodDirectDebit, amountCents, model.BillingDetails{
		FirstName: "Jo", LastName: "Doe", Email: "jo@example.org", Country: "DE",
	})
	p.VendorTransactionID = "vendor-" + p.ID[:8]
	p.MarkPaid(time.Now())
	return p
}

// mockTx is the opaque transaction handle the MockTxManager hands out.
type mockTx struct{}

// =============================
// Repositories
// =============================

// ---- Mock TxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error

	mu        sync.Mutex
	LockCalls []string // userIDs WithUserLock was invoked for
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

// WithTx executes the function immediately with a non-nil fake handle, which
// is what joined calls key on.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, mockTx{})
}

func (m *MockTxManager) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	m.LockCalls = append(m.LockCalls, userID)
	m.mu.Unlock()
	return m.WithTx(ctx, pgx.TxOptions{}, fn)
}

// ---- Mock SubscriptionRepo ----

// MockSubscriptionRepo keeps subscriptions in memory and emulates the
// persistence guard: monotonicity against the stored state and one
// active-family row per user.
type MockSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription

	SaveFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{subs: make(map[string]*model.Subscription)}
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.subs[s.ID]; ok {
		if stored.State != s.State && !stored.State.CanTransitionTo(s.State) {
			return domain.ErrStateRegression
		}
	}
	if s.State.InActiveFamily() {
		for _, other := range m.subs {
			if other.UserID == s.UserID && other.ID != s.ID && other.State.InActiveFamily() {
				return domain.ErrStateConflict
			}
		}
	}
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) findByUserAndState(userID string, state model.SubscriptionState) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == userID && s.State == state {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	return m.findByUserAndState(userID, model.SubscriptionStateActive)
}

func (m *MockSubscriptionRepo) FindCancelledByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	return m.findByUserAndState(userID, model.SubscriptionStateCancelledButActive)
}

func (m *MockSubscriptionRepo) FindSuspendedByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	return m.findByUserAndState(userID, model.SubscriptionStateSuspended)
}

func (m *MockSubscriptionRepo) ListByState(ctx context.Context, tx repository.Tx, state model.SubscriptionState) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.State == state {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, today time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if len(out) >= limit && limit > 0 {
			break
		}
		inScope := s.State == model.SubscriptionStateActive || s.State == model.SubscriptionStateCancelledButActive
		if inScope && !model.DateOf(s.NextDueDate).After(model.DateOf(today)) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) CountByState(ctx context.Context, tx repository.Tx) (map[model.SubscriptionState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.SubscriptionState]int)
	for _, s := range m.subs {
		counts[s.State]++
	}
	return counts, nil
}

func (m *MockSubscriptionRepo) CountWithProblems(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.HasProblems && s.State.InActiveFamily() {
			n++
		}
	}
	return n, nil
}

// Seed inserts a subscription bypassing the guard, for tests that need to
// stage states the guard would reject.
func (m *MockSubscriptionRepo) Seed(s *model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.ID] = &cp
}

// ActiveFamilyCount reports how many active-family rows a user holds. Test
// helper for the exclusivity property.
func (m *MockSubscriptionRepo) ActiveFamilyCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.UserID == userID && s.State.InActiveFamily() {
			n++
		}
	}
	return n
}

// ---- Mock PaymentRepo ----

type MockPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*model.Payment

	SaveFunc func(ctx context.Context, tx repository.Tx, p *model.Payment) error
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{payments: make(map[string]*model.Payment)}
}

func (m *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) FindByTransaction(ctx context.Context, tx repository.Tx, vendorTxID, orderID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.VendorTransactionID == vendorTxID && p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) CountPaidSince(ctx context.Context, tx repository.Tx, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.UserID == userID && p.Status == model.PaymentStatusPaid && p.CompletedAt != nil && !p.CompletedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MockPaymentRepo) SumPaidSince(ctx context.Context, tx repository.Tx, userID string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, p := range m.payments {
		if p.UserID == userID && p.Status == model.PaymentStatusPaid && p.CompletedAt != nil && !p.CompletedAt.Before(since) {
			sum += p.AmountCents
		}
	}
	return sum, nil
}

func (m *MockPaymentRepo) SumPaidByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, p := range m.payments {
		if p.Status == model.PaymentStatusPaid {
			sum += p.AmountCents
		}
	}
	return sum, nil
}

// ---- Mock UserRepo ----

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{users: make(map[string]*model.User)}
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockUserRepo) Seed(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

// ---- Mock TransactionLogRepo ----

type MockTransactionLogRepo struct {
	mu      sync.Mutex
	Entries []*model.TransactionLog
}

var _ repository.TransactionLogRepository = (*MockTransactionLogRepo)(nil)

func NewMockTransactionLogRepo() *MockTransactionLogRepo { return &MockTransactionLogRepo{} }

func (m *MockTransactionLogRepo) Append(ctx context.Context, tx repository.Tx, entry *model.TransactionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *MockTransactionLogRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Entries)
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	InitiatePaymentFunc      func(ctx context.Context, req adapter.InitiateRequest) (*model.Payment, error)
	MakeRecurringPaymentFunc func(ctx context.Context, ref *model.Payment, sub *model.Subscription, lastPayment *model.Payment) (*model.Payment, error)
	VerifyNotificationFunc   func(params map[string]string) error
	ParseNotificationFunc    func(params map[string]string) (*adapter.Notification, error)
	ValidateRedirectFunc     func(params map[string]string, kind adapter.RedirectKind) (string, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) InitiatePayment(ctx context.Context, req adapter.InitiateRequest) (*model.Payment, error) {
	if m.InitiatePaymentFunc != nil {
		return m.InitiatePaymentFunc(ctx, req)
	}
	p, err := model.NewPayment(uuid.NewString(), req.UserID, uuid.NewString(), req.Method, req.AmountCents, req.Billing)
	if err != nil {
		return nil, err
	}
	p.VendorTransactionID = "vendor-" + p.ID[:8]
	p.DebitPeriod = req.DebitPeriod
	if model.RedirectingMethods[req.Method] {
		p.ExtraData["redirect_url"] = "https://pay.example.org/redirect/" + p.OrderID
	}
	return p, nil
}

func (m *MockPaymentGateway) MakeRecurringPayment(ctx context.Context, ref *model.Payment, sub *model.Subscription, lastPayment *model.Payment) (*model.Payment, error) {
	if m.MakeRecurringPaymentFunc != nil {
		return m.MakeRecurringPaymentFunc(ctx, ref, sub, lastPayment)
	}
	if sub.State != model.SubscriptionStateActive {
		return nil, domain.ErrInvalidArgument
	}
	if !lastPayment.Status.Finalized() {
		return nil, domain.ErrPaymentPending
	}
	p, err := model.NewPayment(uuid.NewString(), sub.UserID, uuid.NewString(), ref.Method, sub.AmountCents, ref.Billing)
	if err != nil {
		return nil, err
	}
	p.IsReferencePayment = false
	p.VendorTransactionID = "vendor-" + p.ID[:8]
	p.DebitPeriod = sub.DebitPeriod
	return p, nil
}

func (m *MockPaymentGateway) VerifyNotification(params map[string]string) error {
	if m.VerifyNotificationFunc != nil {
		return m.VerifyNotificationFunc(params)
	}
	return nil
}

func (m *MockPaymentGateway) ParseNotification(params map[string]string) (*adapter.Notification, error) {
	if m.ParseNotificationFunc != nil {
		return m.ParseNotificationFunc(params)
	}
	return nil, domain.ErrNotHandled
}

func (m *MockPaymentGateway) ValidateRedirect(params map[string]string, kind adapter.RedirectKind) (string, error) {
	if m.ValidateRedirectFunc != nil {
		return m.ValidateRedirectFunc(params, kind)
	}
	return params["order_id"], nil
}

// ---- Mock InvoiceBackend ----

type MockInvoiceBackend struct {
	mu       sync.Mutex
	Invoiced []string // payment IDs

	CreateInvoiceFunc func(ctx context.Context, payment *model.Payment) error
}

var _ adapter.InvoiceBackend = (*MockInvoiceBackend)(nil)

func (m *MockInvoiceBackend) Name() string { return "mock-invoice" }

func (m *MockInvoiceBackend) CreateInvoiceForPayment(ctx context.Context, payment *model.Payment) error {
	if m.CreateInvoiceFunc != nil {
		return m.CreateInvoiceFunc(ctx, payment)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invoiced = append(m.Invoiced, payment.ID)
	return nil
}

func (m *MockInvoiceBackend) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Invoiced)
}

// ---- Mock OperatorNotifier ----

type MockNotifier struct {
	mu       sync.Mutex
	Subjects []string
}

var _ adapter.OperatorNotifier = (*MockNotifier)(nil)

func (m *MockNotifier) NotifyOperators(ctx context.Context, subject, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subjects = append(m.Subjects, subject)
	return nil
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Subjects)
}

// ---- Mock RateLimiter ----

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}
