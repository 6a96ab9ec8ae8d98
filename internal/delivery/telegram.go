package delivery

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"timeclerk/internal/config"
	"timeclerk/internal/types"
)

// TelegramGateway sends messages with the Telegram Bot API. The
// destination is a numeric chat id.
type TelegramGateway struct {
	bot       *tgbotapi.BotAPI
	parseMode string
}

// NewTelegramGateway creates a Telegram gateway from configuration. It
// fails when the token does not authenticate.
func NewTelegramGateway(cfg config.TelegramGatewayConfig) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &TelegramGateway{bot: bot, parseMode: cfg.ParseMode}, nil
}

// Name identifies the gateway in logs.
func (g *TelegramGateway) Name() string { return "telegram" }

// Send posts one message part to the destination chat. The Bot API
// client has no context plumbing, so ctx is only checked up front.
func (g *TelegramGateway) Send(ctx context.Context, destination, text string) (types.DeliveryReceipt, error) {
	if err := ctx.Err(); err != nil {
		return types.DeliveryReceipt{}, err
	}
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("invalid telegram chat id %q: %w", destination, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if g.parseMode != "" {
		msg.ParseMode = g.parseMode
	}
	sent, err := g.bot.Send(msg)
	if err != nil {
		// Markup that Telegram rejects still deserves a reply.
		plain := tgbotapi.NewMessage(chatID, text)
		sent, err = g.bot.Send(plain)
		if err != nil {
			return types.DeliveryReceipt{}, fmt.Errorf("telegram send: %w", err)
		}
	}
	return types.DeliveryReceipt{ExternalMessageID: strconv.Itoa(sent.MessageID), Status: "sent"}, nil
}
