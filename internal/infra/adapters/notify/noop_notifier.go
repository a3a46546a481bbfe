package notify

import (
	"context"

	"github.com/rs/zerolog"

	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.OperatorNotifier = (*LogNotifier)(nil)

// LogNotifier writes alerts to the log only. Used when no telegram chat is
// configured, so alert call sites never have to nil-check.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) NotifyOperators(ctx context.Context, subject, message string) error {
	n.log.Warn().Str("subject", subject).Str("message", message).Msg("operator alert")
	return nil
}
