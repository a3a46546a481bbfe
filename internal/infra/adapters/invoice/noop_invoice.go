package invoice

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.InvoiceBackend = (*NoopInvoiceBackend)(nil)

// NoopInvoiceBackend only logs. The default when no accounting service is
// wired up.
type NoopInvoiceBackend struct {
	log *zerolog.Logger
}

func NewNoopInvoiceBackend(logger *zerolog.Logger) *NoopInvoiceBackend {
	return &NoopInvoiceBackend{log: logger}
}

func (b *NoopInvoiceBackend) Name() string { return "noop" }

func (b *NoopInvoiceBackend) CreateInvoiceForPayment(ctx context.Context, p *model.Payment) error {
	b.log.Info().Str("payment_id", p.ID).Int64("amount_cents", p.AmountCents).Msg("invoice skipped (noop backend)")
	return nil
}

// NewBackend constructs the configured invoice backend.
func NewBackend(cfg config.InvoiceConfig, logger *zerolog.Logger) (adapter.InvoiceBackend, error) {
	switch cfg.Backend {
	case "", "noop":
		return NewNoopInvoiceBackend(logger), nil
	case "http":
		return NewHTTPInvoiceBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown invoice backend %q", cfg.Backend)
	}
}
