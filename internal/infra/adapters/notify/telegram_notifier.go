// File: internal/infra/adapters/notify/telegram_notifier.go
package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.OperatorNotifier = (*TelegramNotifier)(nil)

// TelegramNotifier pushes operator alerts into a telegram group chat. Alerts
// are operator-actionable events only (refund reversals, stuck payments,
// invariant violations), not routine logging.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zerolog.Logger
}

func NewTelegramNotifier(cfg config.NotifyConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("notify: telegram token is empty")
	}
	if cfg.TelegramChatID == 0 {
		return nil, errors.New("notify: telegram chat id is not set")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("notify: connecting telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: cfg.TelegramChatID, log: logger}, nil
}

func (n *TelegramNotifier) NotifyOperators(ctx context.Context, subject, message string) error {
	text := fmt.Sprintf("⚠ %s\n\n%s", subject, message)
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Error().Err(err).Str("subject", subject).Msg("telegram operator alert failed")
		return err
	}
	return nil
}
