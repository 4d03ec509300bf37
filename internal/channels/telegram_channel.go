package channels

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

// TelegramChannel alerts crisis-response staff in their Telegram group.
// It is a staff-facing channel: supervisor alerts and escalation pings,
// never messages to the affected user.
type TelegramChannel struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramChannel authorizes the bot. Returns nil when the token is
// empty so the channel set can simply omit it.
func NewTelegramChannel(botToken string, chatID int64, logger *zap.Logger) (*TelegramChannel, error) {
	if botToken == "" {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram staff channel authorized", zap.String("username", api.Self.UserName))

	return &TelegramChannel{api: api, chatID: chatID, logger: logger}, nil
}

func (t *TelegramChannel) Name() string {
	return models.ChannelTelegram
}

// Send posts to the staff chat. An explicit numeric recipient overrides
// the configured chat, so supervisor alerts can target a different group.
func (t *TelegramChannel) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	chatID := t.chatID
	if recipient != "" {
		if parsed, err := strconv.ParseInt(recipient, 10, 64); err == nil {
			chatID = parsed
		}
	}

	text := fmt.Sprintf("⚠️ %s\n\nCase: %s\nSeverity: %s\n\n%s", msg.Subject, msg.CaseID, msg.Severity, msg.Body)
	out := tgbotapi.NewMessage(chatID, text)
	if _, err := t.api.Send(out); err != nil {
		return "", fmt.Errorf("failed to send Telegram alert: %w", err)
	}

	return "delivered", nil
}
