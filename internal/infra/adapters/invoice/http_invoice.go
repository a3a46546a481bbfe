// File: internal/infra/adapters/invoice/http_invoice.go
package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.InvoiceBackend = (*HTTPInvoiceBackend)(nil)

// HTTPInvoiceBackend hands settled payments to an external accounting
// service. Fires once per payment; delivery failures are the caller's to
// retry or escalate.
type HTTPInvoiceBackend struct {
	url    string
	token  string
	client *http.Client
	log    *zerolog.Logger
}

func NewHTTPInvoiceBackend(cfg config.InvoiceConfig, logger *zerolog.Logger) (*HTTPInvoiceBackend, error) {
	if cfg.URL == "" {
		return nil, errors.New("invoice: url is empty")
	}
	return &HTTPInvoiceBackend{
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    logger,
	}, nil
}

func (b *HTTPInvoiceBackend) Name() string { return "http" }

type invoiceRequest struct {
	PaymentID   string    `json:"payment_id"`
	UserID      string    `json:"user_id"`
	OrderID     string    `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Method      string    `json:"method"`
	CompletedAt time.Time `json:"completed_at"`

	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Organisation string `json:"organisation,omitempty"`
}

func (b *HTTPInvoiceBackend) CreateInvoiceForPayment(ctx context.Context, p *model.Payment) error {
	if p.CompletedAt == nil {
		return errors.New("invoice: payment has no completion timestamp")
	}
	body, err := json.Marshal(invoiceRequest{
		PaymentID:    p.ID,
		UserID:       p.UserID,
		OrderID:      p.OrderID,
		AmountCents:  p.AmountCents,
		Currency:     p.Currency,
		Method:       string(p.Method),
		CompletedAt:  *p.CompletedAt,
		FirstName:    p.Billing.FirstName,
		LastName:     p.Billing.LastName,
		Email:        p.Billing.Email,
		Address:      p.Billing.Address,
		City:         p.Billing.City,
		PostalCode:   p.Billing.PostalCode,
		Country:      p.Billing.Country,
		Organisation: p.Billing.Organisation,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("invoice: delivering payment %s: %w", p.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("invoice: service answered %d for payment %s", resp.StatusCode, p.ID)
	}
	b.log.Info().Str("payment_id", p.ID).Msg("invoice created")
	return nil
}
