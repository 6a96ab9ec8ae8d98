package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"timeclerk/internal/config"
	"timeclerk/internal/types"
)

// SMSGateway posts messages to a Twilio-compatible REST API.
type SMSGateway struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
}

// NewSMSGateway creates an SMS gateway from configuration.
func NewSMSGateway(cfg config.SMSGatewayConfig) *SMSGateway {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.twilio.com/2010-04-01"
	}
	return &SMSGateway{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name identifies the gateway in logs.
func (g *SMSGateway) Name() string { return "sms" }

// Send posts one message to the Messages endpoint.
func (g *SMSGateway) Send(ctx context.Context, destination, text string) (types.DeliveryReceipt, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", g.baseURL, g.accountSID)

	form := url.Values{}
	form.Set("From", g.from)
	form.Set("To", destination)
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(g.accountSID, g.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.DeliveryReceipt{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return types.DeliveryReceipt{ExternalMessageID: parsed.SID, Status: parsed.Status}, nil
}
