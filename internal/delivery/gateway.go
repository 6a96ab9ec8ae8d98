// Package delivery sends formatted responses out over the channel the
// request arrived on.
package delivery

import (
	"context"
	"fmt"

	"timeclerk/internal/config"
	"timeclerk/internal/logging"
	"timeclerk/internal/types"
)

// Gateway sends one message part to a destination address.
type Gateway interface {
	// Name identifies the gateway in logs.
	Name() string

	// Send delivers text to the destination and returns the provider's
	// receipt for the first accepted message.
	Send(ctx context.Context, destination, text string) (types.DeliveryReceipt, error)
}

// Dispatcher routes outbound sends to the gateway registered for the
// request's channel. Channels without a configured gateway fail the
// send rather than silently dropping it.
type Dispatcher struct {
	gateways map[types.Channel]Gateway
}

// NewDispatcher builds a dispatcher from the delivery configuration.
// Only channels with usable credentials get a gateway.
func NewDispatcher(cfg config.DeliveryConfig) *Dispatcher {
	d := &Dispatcher{gateways: make(map[types.Channel]Gateway)}
	if cfg.SMS.AccountSID != "" {
		d.Register(types.ChannelSMS, NewSMSGateway(cfg.SMS))
	}
	if cfg.Email.APIKey != "" {
		d.Register(types.ChannelEmail, NewEmailGateway(cfg.Email))
	}
	if cfg.Slack.BotToken != "" {
		g := NewSlackGateway(cfg.Slack)
		d.Register(types.ChannelSlack, g)
		d.Register(types.ChannelChat, g)
	}
	if cfg.Telegram.Token != "" {
		if g, err := NewTelegramGateway(cfg.Telegram); err != nil {
			logging.Get(logging.CategoryDelivery).Error("telegram gateway unavailable: %v", err)
		} else {
			d.Register(types.ChannelTelegram, g)
		}
	}
	return d
}

// Register binds a gateway to a channel, replacing any previous one.
func (d *Dispatcher) Register(ch types.Channel, g Gateway) {
	d.gateways[ch] = g
}

// Has reports whether a gateway is registered for the channel.
func (d *Dispatcher) Has(ch types.Channel) bool {
	_, ok := d.gateways[ch]
	return ok
}

// Deliver sends every part of a formatted response in order. A failure
// on any part aborts the remainder. The returned receipt carries the
// provider id of the first part so a split answer has one stable
// reference.
func (d *Dispatcher) Deliver(ctx context.Context, destination string, resp types.FormattedResponse) (types.DeliveryReceipt, error) {
	g, ok := d.gateways[resp.Channel]
	if !ok {
		return types.DeliveryReceipt{}, fmt.Errorf("%w: no gateway registered for channel %q", types.ErrDelivery, resp.Channel)
	}

	parts := resp.Parts
	if !resp.IsSplit {
		parts = []string{resp.Content}
	}

	var first types.DeliveryReceipt
	for i, part := range parts {
		receipt, err := g.Send(ctx, destination, part)
		if err != nil {
			return types.DeliveryReceipt{}, fmt.Errorf("%w: %s send failed on part %d/%d: %v",
				types.ErrDelivery, g.Name(), i+1, len(parts), err)
		}
		if i == 0 {
			first = receipt
		}
		logging.DeliveryDebug("Sent part %d/%d via %s (id=%s)", i+1, len(parts), g.Name(), receipt.ExternalMessageID)
	}
	first.Status = "sent"
	return first, nil
}
