package payment

import (
	"fmt"

	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/security"
)

// NewGateway constructs the configured payment vendor adapter. The adapter
// is built once at startup and injected everywhere; nothing resolves a
// backend by name at runtime.
func NewGateway(cfg *config.Config, txlog repository.TransactionLogRepository, logger *zerolog.Logger) (adapter.PaymentGateway, error) {
	var cipher *security.EncryptionService
	if cfg.Security.TokenKey != "" {
		var err error
		cipher, err = security.NewEncryptionService(cfg.Security.TokenKey)
		if err != nil {
			return nil, fmt.Errorf("token cipher: %w", err)
		}
	}
	switch cfg.Payments.Backend {
	case "", "betterpay", "betterpayment":
		return NewBetterPayGateway(cfg.Payments.BetterPay, cfg.Web, txlog, cipher, logger)
	case "noop":
		return NewNoopPaymentGateway(), nil
	default:
		return nil, fmt.Errorf("unknown payment backend %q", cfg.Payments.Backend)
	}
}
