package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"timeclerk/internal/config"
	"timeclerk/internal/types"
)

// EmailGateway posts messages to an HTTP transactional email API.
type EmailGateway struct {
	apiKey     string
	from       string
	baseURL    string
	httpClient *http.Client
}

// NewEmailGateway creates an email gateway from configuration.
func NewEmailGateway(cfg config.EmailGatewayConfig) *EmailGateway {
	return &EmailGateway{
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name identifies the gateway in logs.
func (g *EmailGateway) Name() string { return "email" }

// Send posts one message to the send endpoint. Email bodies are never
// split, so text is the full content.
func (g *EmailGateway) Send(ctx context.Context, destination, text string) (types.DeliveryReceipt, error) {
	payload := map[string]interface{}{
		"from":    g.from,
		"to":      destination,
		"subject": "Your time report",
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.DeliveryReceipt{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return types.DeliveryReceipt{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return types.DeliveryReceipt{ExternalMessageID: parsed.ID, Status: "queued"}, nil
}
