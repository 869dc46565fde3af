package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

// Sender is the part of the bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts operator alerts into a Telegram chat. Without a bot it only logs.
type Notifier struct {
	bot    Sender
	chatID int64
	log    zerolog.Logger
}

var _ domain.OperatorNotifier = (*Notifier)(nil)

// NewNotifier connects to the bot API when token is set.
func NewNotifier(token string, chatID int64, log zerolog.Logger) (*Notifier, error) {
	if token == "" || chatID == 0 {
		log.Warn().Msg("telegram: operator chat is not configured, alerts go to the log")
		return &Notifier{log: log}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewNotifierWithSender(bot, chatID, log), nil
}

func NewNotifierWithSender(bot Sender, chatID int64, log zerolog.Logger) *Notifier {
	return &Notifier{bot: bot, chatID: chatID, log: log}
}

func (n *Notifier) NotifyOperators(ctx context.Context, text string) error {
	if n.bot == nil {
		n.log.Warn().Str("alert", text).Msg("operator alert")
		return nil
	}
	target := strconv.FormatInt(n.chatID, 10)
	for _, part := range splitText(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", target, start, err)
		if err != nil {
			n.log.Error().Err(err).Int64("chat", n.chatID).Msg("telegram: failed to send operator alert")
			return fmt.Errorf("send alert: %w", err)
		}
	}
	return nil
}
