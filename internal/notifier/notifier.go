// Package notifier sends pre-formatted trade/event messages to an
// outbound sink. Grounded on the teacher's go.mod carrying
// telegram-bot-api/v5 (it appears there unused by any teacher source
// file; only the send-message half is exercised here, since interactive
// command handling is an explicit spec.md non-goal).
package notifier

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sentryfx/internal/logger"
)

// Notifier is the sink every scanner/trader/manager component sends
// human-readable messages through (spec.md §6 Notifier contract).
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// TelegramNotifier sends messages to a single Telegram chat.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
}

// NewTelegramNotifier constructs a TelegramNotifier. If enabled is false,
// Notify is a no-op and no bot connection is attempted (TELEGRAM_ENABLED,
// spec.md §6).
func NewTelegramNotifier(botToken string, chatID int64, enabled bool) (*TelegramNotifier, error) {
	if !enabled {
		return &TelegramNotifier{enabled: false}, nil
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("notifier: connecting to telegram: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, enabled: true}, nil
}

// Notify sends message to the configured chat. A no-op if the notifier
// was constructed with enabled=false.
func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	if !n.enabled {
		return nil
	}
	msg := tgbotapi.NewMessage(n.chatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		logger.Warnf("notifier: sending telegram message failed: %v", err)
		return fmt.Errorf("notifier: sending telegram message: %w", err)
	}
	return nil
}
