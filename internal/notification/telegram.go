package notification

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TelegramConfig configures the Telegram channel. An empty token disables it.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id" validate:"required_with=BotToken"`
}

type chattableSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	bot    chattableSender
	chatID int64
	logger zerolog.Logger
}

// NewTelegramNotifier authenticates the bot and returns a notifier for chatID.
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegram(bot, cfg.ChatID), nil
}

func newTelegram(bot chattableSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: log.With().Str("component", "telegram").Logger(),
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, formatTelegram(alert))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	t.logger.Debug().Str("title", alert.Title).Msg("sent alert")
	return nil
}

func formatTelegram(alert Alert) string {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}
	return fmt.Sprintf("%s *%s*\n\n%s", emoji,
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, alert.Title),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, alert.Message))
}
