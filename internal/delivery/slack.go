package delivery

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"timeclerk/internal/config"
	"timeclerk/internal/types"
)

// SlackGateway posts messages with the Slack Web API. The destination
// is a channel or DM id.
type SlackGateway struct {
	client *slack.Client
}

// NewSlackGateway creates a Slack gateway from configuration.
func NewSlackGateway(cfg config.SlackGatewayConfig) *SlackGateway {
	return &SlackGateway{client: slack.New(cfg.BotToken)}
}

// Name identifies the gateway in logs.
func (g *SlackGateway) Name() string { return "slack" }

// Send posts one message part to the destination conversation.
func (g *SlackGateway) Send(ctx context.Context, destination, text string) (types.DeliveryReceipt, error) {
	_, ts, err := g.client.PostMessageContext(ctx, destination,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(true),
	)
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("slack post: %w", err)
	}
	return types.DeliveryReceipt{ExternalMessageID: ts, Status: "sent"}, nil
}
