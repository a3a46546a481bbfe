//go:build !integration

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
)

func doJSON(t *testing.T, handler http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestInitiatePaymentHandler(t *testing.T) {
	t.Run("starts a payment and returns the redirect url", func(t *testing.T) {
		deps := newTestServer(t)
		deps.payUC.InitiateFunc = func(ctx context.Context, userID string, req adapter.InitiateRequest) (*model.Payment, string, error) {
			if userID != "user-1" {
				t.Errorf("wrong user id: %q", userID)
			}
			if req.Method != model.PaymentMethodCreditCard || req.AmountCents != 500 {
				t.Errorf("request not mapped: %+v", req)
			}
			p, _ := model.NewPayment("pay-1", userID, "order-1", req.Method, req.AmountCents, req.Billing)
			return p, "https://provider.example/go/abc", nil
		}

		rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/payments", "user-1",
			`{"method":"cc","amount_cents":500,"first_name":"Ada","last_name":"Lovelace","email":"ada@example.org","address":"Lane 1","city":"London","postal_code":"10999","country":"DE"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
		}
		var resp paymentResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad response body: %v", err)
		}
		if resp.RedirectURL != "https://provider.example/go/abc" {
			t.Errorf("redirect url missing: %q", resp.RedirectURL)
		}
		if resp.Status != "started" {
			t.Errorf("expected started, got %q", resp.Status)
		}
	})

	t.Run("requires the platform user header", func(t *testing.T) {
		deps := newTestServer(t)
		rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/payments", "", `{}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects ids without a synced account", func(t *testing.T) {
		deps := newTestServer(t)
		deps.users.FindFunc = func(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
			return nil, domain.ErrNotFound
		}
		rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/payments", "ghost", `{}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects deactivated accounts", func(t *testing.T) {
		deps := newTestServer(t)
		deps.users.FindFunc = func(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
			return &model.User{ID: id, IsActive: false}, nil
		}
		rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/payments", "user-1", `{}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("maps domain errors to status codes", func(t *testing.T) {
		cases := []struct {
			name string
			err  error
			want int
		}{
			{"amount out of range", domain.ErrAmountOutOfRange, http.StatusBadRequest},
			{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
			{"safety check", domain.ErrPaymentSafetyCheck, http.StatusForbidden},
			{"provider down", domain.ErrGatewayUnavailable, http.StatusBadGateway},
			{"missing params", &domain.MissingParamsError{Params: []string{"iban"}}, http.StatusBadRequest},
			{"gateway error", &domain.GatewayError{Code: 104, Message: "Unsupported payment type."}, http.StatusBadGateway},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				deps := newTestServer(t)
				deps.payUC.InitiateFunc = func(ctx context.Context, userID string, req adapter.InitiateRequest) (*model.Payment, string, error) {
					return nil, "", tc.err
				}
				rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/payments", "user-1", `{"method":"dd","amount_cents":500}`)
				if rec.Code != tc.want {
					t.Fatalf("expected %d, got %d", tc.want, rec.Code)
				}
			})
		}
	})

	t.Run("missing params are listed for the form", func(t *testing.T) {
		deps := newTestServer(t)
		deps.payUC.InitiateFunc = func(ctx context.Context, userID string, req adapter.InitiateRequest) (*model.Payment, string, error) {
			return nil, "", &domain.MissingParamsError{Params: []string{"iban", "bic"}}
		}
		rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/payments", "user-1", `{"method":"dd","amount_cents":500}`)
		var resp struct {
			Error  string   `json:"error"`
			Params []string `json:"missing_params"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad response body: %v", err)
		}
		if resp.Error != "missing_params" || len(resp.Params) != 2 {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})
}

func TestSubscriptionHandlers(t *testing.T) {
	t.Run("current subscription", func(t *testing.T) {
		deps := newTestServer(t)
		deps.subUC.CurrentFunc = func(ctx context.Context, userID string) (*model.Subscription, error) {
			return activeSubscription(userID), nil
		}
		rec := doJSON(t, deps.server.Router(), http.MethodGet, "/api/v1/subscription", "user-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp subscriptionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad response body: %v", err)
		}
		if resp.StateName != "active" || resp.AmountCents != 500 {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("no subscription answers 404", func(t *testing.T) {
		deps := newTestServer(t)
		deps.subUC.CurrentFunc = func(ctx context.Context, userID string) (*model.Subscription, error) {
			return nil, domain.ErrNoActiveSubscription
		}
		rec := doJSON(t, deps.server.Router(), http.MethodGet, "/api/v1/subscription", "user-1", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		deps := newTestServer(t)
		deps.subUC.CancelFunc = func(ctx context.Context, userID string) (*model.Subscription, error) {
			sub := activeSubscription(userID)
			sub.State = model.SubscriptionStateCancelledButActive
			return sub, nil
		}
		rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/subscription/cancel", "user-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp subscriptionResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.StateName != "cancelled_but_active" {
			t.Errorf("unexpected state: %s", rec.Body.String())
		}
	})

	t.Run("cancel without active subscription answers 409", func(t *testing.T) {
		deps := newTestServer(t)
		deps.subUC.CancelFunc = func(ctx context.Context, userID string) (*model.Subscription, error) {
			return nil, domain.ErrNoActiveSubscription
		}
		rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/subscription/cancel", "user-1", "")
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("change amount validates bounds", func(t *testing.T) {
		deps := newTestServer(t)
		deps.subUC.ChangeAmountFunc = func(ctx context.Context, userID string, amountCents int64) (*model.Subscription, error) {
			return nil, domain.ErrAmountOutOfRange
		}
		rec := doJSON(t, deps.server.Router(), http.MethodPost, "/api/v1/subscription/amount", "user-1", `{"amount_cents":5}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestPostbackHandler(t *testing.T) {
	t.Run("handled postback is acknowledged with 200", func(t *testing.T) {
		deps := newTestServer(t)
		form := url.Values{}
		form.Set("transaction_id", "tx-1")
		form.Set("order_id", "order-1")
		form.Set("status_code", "3")
		form.Set("checksum", "abc")

		req := httptest.NewRequest(http.MethodPost, "/postback", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		deps.server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if deps.notifUC.LastParams["transaction_id"] != "tx-1" {
			t.Errorf("form params not forwarded: %v", deps.notifUC.LastParams)
		}
	})

	t.Run("unhandled postback answers 404 so the vendor retries", func(t *testing.T) {
		deps := newTestServer(t)
		deps.notifUC.HandleFunc = func(ctx context.Context, params map[string]string) bool { return false }

		req := httptest.NewRequest(http.MethodPost, "/postback", strings.NewReader("status_code=3"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		deps.server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestRedirectHandlers(t *testing.T) {
	t.Run("valid success redirect renders the confirmation page", func(t *testing.T) {
		deps := newTestServer(t)
		deps.payUC.ValidateRedirectFunc = func(ctx context.Context, params map[string]string, kind adapter.RedirectKind) (*model.Payment, error) {
			if kind != adapter.RedirectSuccess {
				t.Errorf("expected success redirect, got %s", kind)
			}
			p, _ := model.NewPayment("pay-1", "user-1", params["order_id"], model.PaymentMethodCreditCard, 500, model.BillingDetails{})
			return p, nil
		}
		rec := doJSON(t, deps.server.Router(), http.MethodGet, "/payment/success?order_id=order-1&checksum=abc", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Payment Submitted") {
			t.Errorf("confirmation page not rendered: %s", rec.Body.String())
		}
	})

	t.Run("result page follows the browser language", func(t *testing.T) {
		deps := newTestServer(t)
		deps.payUC.ValidateRedirectFunc = func(ctx context.Context, params map[string]string, kind adapter.RedirectKind) (*model.Payment, error) {
			p, _ := model.NewPayment("pay-1", "user-1", params["order_id"], model.PaymentMethodCreditCard, 500, model.BillingDetails{})
			return p, nil
		}
		req := httptest.NewRequest(http.MethodGet, "/payment/success?order_id=order-1&checksum=abc", nil)
		req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")
		rec := httptest.NewRecorder()
		deps.server.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Zahlung übermittelt") {
			t.Errorf("German page not rendered: %s", rec.Body.String())
		}
	})

	t.Run("forged redirect is rejected", func(t *testing.T) {
		deps := newTestServer(t)
		deps.payUC.ValidateRedirectFunc = func(ctx context.Context, params map[string]string, kind adapter.RedirectKind) (*model.Payment, error) {
			return nil, domain.ErrBadSignature
		}
		rec := doJSON(t, deps.server.Router(), http.MethodGet, "/payment/error?order_id=order-1", "", "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})
}

func TestAdminStatsHandler(t *testing.T) {
	t.Run("requires a valid operator token", func(t *testing.T) {
		deps := newTestServer(t)
		rec := doJSON(t, deps.server.Router(), http.MethodGet, "/api/v1/admin/stats", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("serves totals and revenue", func(t *testing.T) {
		deps := newTestServer(t)
		token, err := deps.auth.Mint(nil)
		if err != nil {
			t.Fatalf("mint failed: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		deps.server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
		var resp struct {
			States  map[string]int `json:"subscriptions_by_state"`
			Revenue struct {
				Year int64 `json:"year"`
			} `json:"revenue_cents"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad response body: %v", err)
		}
		if resp.States["active"] != 2 || resp.Revenue.Year != 4800 {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})
}

func TestHealthAndMetrics(t *testing.T) {
	deps := newTestServer(t)
	rec := doJSON(t, deps.server.Router(), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health check failed: %d", rec.Code)
	}
	rec = doJSON(t, deps.server.Router(), http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint failed: %d", rec.Code)
	}
}
