package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers operator alerts over Telegram. A nil Notifier is valid
// and drops everything, so call sites never need to guard.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegram connects the bot API. Missing token or chat id disables
// alerting and returns nil rather than an error.
func NewTelegram(token string, chatID int64, logger *zap.Logger) *Notifier {
	if token == "" || chatID == 0 {
		return nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		if logger != nil {
			logger.Warn("telegram bot unavailable, alerts disabled", zap.Error(err))
		}
		return nil
	}
	if logger != nil {
		logger.Info("telegram alerts connected", zap.String("username", api.Self.UserName))
	}
	return &Notifier{api: api, chatID: chatID, logger: logger}
}

// Notify sends one plain-text alert. Failures are logged, never returned;
// alerting must not change control flow at the call site.
func (n *Notifier) Notify(format string, args ...interface{}) {
	if n == nil || n.api == nil {
		return
	}
	text := fmt.Sprintf(format, args...)
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil && n.logger != nil {
		n.logger.Warn("telegram send failed", zap.Error(err))
	}
}
