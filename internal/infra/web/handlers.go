// File: internal/infra/web/handlers.go
package web

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

// The expected JSON request body for starting a payment.
type initiatePaymentRequest struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	DebitPeriod string `json:"debit_period"`

	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Organisation string `json:"organisation"`

	IBAN          string `json:"iban"`
	BIC           string `json:"bic"`
	AccountHolder string `json:"account_holder"`

	Postpone bool `json:"postpone"`
}

type paymentResponse struct {
	PaymentID    string `json:"payment_id"`
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	Method       string `json:"method"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	MandateToken string `json:"sepa_mandate_token,omitempty"`
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	period := model.DebitPeriod(req.DebitPeriod)
	if period == "" {
		period = model.DebitPeriodMonthly
	}
	p, redirectURL, err := s.paymentUC.InitiatePayment(r.Context(), requestUserID(r), adapter.InitiateRequest{
		Method:      model.PaymentMethod(req.Method),
		AmountCents: req.AmountCents,
		DebitPeriod: period,
		Billing: model.BillingDetails{
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Email:        req.Email,
			Address:      req.Address,
			City:         req.City,
			PostalCode:   req.PostalCode,
			Country:      req.Country,
			Organisation: req.Organisation,
		},
		IBAN:          req.IBAN,
		BIC:           req.BIC,
		AccountHolder: req.AccountHolder,
		Postpone:      req.Postpone,
	})
	if err != nil {
		s.writePaymentError(w, err)
		return
	}

	resp := paymentResponse{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		Status:      p.Status.String(),
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		Method:      string(p.Method),
		RedirectURL: redirectURL,
	}
	if token, ok := p.ExtraData["sepa_mandate_token"].(string); ok {
		resp.MandateToken = token
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) writePaymentError(w http.ResponseWriter, err error) {
	var mp *domain.MissingParamsError
	if errors.As(err, &mp) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":          "missing_params",
			"missing_params": mp.Params,
		})
		return
	}
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":         "gateway_error",
			"gateway_code":  ge.Code,
			"error_message": ge.Message,
		})
		return
	}
	switch {
	case errors.Is(err, domain.ErrAmountOutOfRange), errors.Is(err, domain.ErrPostponedDisabled), errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrRateLimited):
		http.Error(w, "Too many payment attempts", http.StatusTooManyRequests)
	case errors.Is(err, domain.ErrPaymentSafetyCheck):
		http.Error(w, "Payment refused, please contact support", http.StatusForbidden)
	case errors.Is(err, domain.ErrGatewayUnavailable):
		http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
	default:
		s.log.Error().Err(err).Msg("payment initiation failed")
		http.Error(w, "Payment failed", http.StatusInternalServerError)
	}
}

type subscriptionResponse struct {
	ID          string     `json:"id"`
	State       int        `json:"state"`
	StateName   string     `json:"state_name"`
	AmountCents int64      `json:"amount_cents"`
	DebitPeriod string     `json:"debit_period"`
	NextDueDate time.Time  `json:"next_due_date"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	HasProblems bool       `json:"has_problems"`
}

func subscriptionView(sub *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:          sub.ID,
		State:       int(sub.State),
		StateName:   sub.State.String(),
		AmountCents: sub.AmountCents,
		DebitPeriod: string(sub.DebitPeriod),
		NextDueDate: sub.NextDueDate,
		CancelledAt: sub.CancelledAt,
		HasProblems: sub.HasProblems,
	}
}

func (s *Server) handleCurrentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subUC.Current(r.Context(), requestUserID(r))
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSubscription) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Failed to load subscription", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub))
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subUC.Cancel(r.Context(), requestUserID(r))
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSubscription) {
			http.Error(w, "No active subscription", http.StatusConflict)
			return
		}
		http.Error(w, "Cancel failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub))
}

func (s *Server) handleChangeAmount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sub, err := s.subUC.ChangeAmount(r.Context(), requestUserID(r), req.AmountCents)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAmountOutOfRange):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrNoActiveSubscription):
			http.Error(w, "No active subscription", http.StatusConflict)
		default:
			http.Error(w, "Amount change failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub))
}

// handlePostback receives the provider's asynchronous status notifications.
// A 200 acknowledges; anything else makes the provider redeliver, so only
// fully-processed notifications are acknowledged.
func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	params := make(map[string]string, len(r.Form))
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}
	if s.notifUC.HandlePostback(r.Context(), params) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}
	http.NotFound(w, r)
}

// handleRedirect serves the page the user lands on after a redirect-based
// payment method bounces them back from the provider.
func (s *Server) handleRedirect(success bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := adapter.RedirectError
		if success {
			kind = adapter.RedirectSuccess
		}
		q := r.URL.Query()
		params := make(map[string]string, len(q))
		for k := range q {
			params[k] = q.Get(k)
		}

		p, err := s.paymentUC.ValidateRedirect(r.Context(), params, kind)
		if err != nil {
			if errors.Is(err, domain.ErrBadSignature) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			s.renderResult(w, r, http.StatusNotFound, false, "result_not_found")
			return
		}
		if success {
			s.renderResult(w, r, http.StatusOK, true, "result_submitted")
			return
		}
		s.log.Info().Str("payment_id", p.ID).Msg("user returned via error redirect")
		s.renderResult(w, r, http.StatusOK, false, "result_not_completed")
	}
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	byState, withProblems, err := s.statsUC.Totals(r.Context())
	if err != nil {
		http.Error(w, "Failed to get totals", http.StatusInternalServerError)
		return
	}
	week, month, year, err := s.statsUC.Revenue(r.Context())
	if err != nil {
		http.Error(w, "Failed to get revenue", http.StatusInternalServerError)
		return
	}

	states := make(map[string]int, len(byState))
	for state, n := range byState {
		states[state.String()] = n
	}
	writeJSON(w, http.StatusOK, struct {
		SubscriptionsByState map[string]int `json:"subscriptions_by_state"`
		WithProblems         int            `json:"with_problems"`
		Revenue              struct {
			Week  int64 `json:"week"`
			Month int64 `json:"month"`
			Year  int64 `json:"year"`
		} `json:"revenue_cents"`
	}{
		SubscriptionsByState: states,
		WithProblems:         withProblems,
		Revenue: struct {
			Week  int64 `json:"week"`
			Month int64 `json:"month"`
			Year  int64 `json:"year"`
		}{Week: week, Month: month, Year: year},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{.Heading}}</h2>
  <p>{{.Msg}}</p>
</div>
</body>
</html>`))

// renderResult serves the landing page in the browser's language; en and de
// are available, matching the provider's market.
func (s *Server) renderResult(w http.ResponseWriter, r *http.Request, code int, ok bool, msgKey string) {
	tr := s.langs.Pick(r.Header.Get("Accept-Language"))
	title, heading := "result_title_fail", "result_heading_fail"
	if ok {
		title, heading = "result_title_ok", "result_heading_ok"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = resultPage.Execute(w, struct {
		Lang    string
		Title   string
		Heading string
		OK      bool
		Msg     string
	}{Lang: tr.Lang(), Title: tr.T(title), Heading: tr.T(heading), OK: ok, Msg: tr.T(msgKey)})
}
