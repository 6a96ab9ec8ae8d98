// Package timesheet is the HTTP client for the time-tracking data
// provider. It returns structured data only; wording and layout belong
// to the planner and the channel formatter.
package timesheet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"timeclerk/internal/logging"
)

// Client talks to the time-tracking provider API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds provider connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a provider client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// TimeEntry is one logged block of work.
type TimeEntry struct {
	ID      string  `json:"id"`
	Date    string  `json:"date"`
	Project string  `json:"project"`
	Hours   float64 `json:"hours"`
	Notes   string  `json:"notes,omitempty"`
}

// DailyTotal is logged hours for one day.
type DailyTotal struct {
	Date  string  `json:"date"`
	Hours float64 `json:"hours"`
}

// Shift is one scheduled block.
type Shift struct {
	Date     string `json:"date"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Assignment is a project or role assignment.
type Assignment struct {
	Project string `json:"project"`
	Role    string `json:"role"`
	Since   string `json:"since,omitempty"`
}

// TimeEntries fetches entries for a user in [from, to].
func (c *Client) TimeEntries(ctx context.Context, credentials, userID, from, to string) ([]TimeEntry, error) {
	var out struct {
		Entries []TimeEntry `json:"entries"`
	}
	params := url.Values{"user_id": {userID}, "from": {from}, "to": {to}}
	if err := c.get(ctx, credentials, "/v1/time_entries", params, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// DailyTotals fetches per-day totals for a user in [from, to].
func (c *Client) DailyTotals(ctx context.Context, credentials, userID, from, to string) ([]DailyTotal, error) {
	var out struct {
		Totals []DailyTotal `json:"totals"`
	}
	params := url.Values{"user_id": {userID}, "from": {from}, "to": {to}}
	if err := c.get(ctx, credentials, "/v1/daily_totals", params, &out); err != nil {
		return nil, err
	}
	return out.Totals, nil
}

// Schedule fetches upcoming shifts for a user in [from, to].
func (c *Client) Schedule(ctx context.Context, credentials, userID, from, to string) ([]Shift, error) {
	var out struct {
		Shifts []Shift `json:"shifts"`
	}
	params := url.Values{"user_id": {userID}, "from": {from}, "to": {to}}
	if err := c.get(ctx, credentials, "/v1/schedule", params, &out); err != nil {
		return nil, err
	}
	return out.Shifts, nil
}

// Assignments fetches the user's current project/role assignments.
func (c *Client) Assignments(ctx context.Context, credentials, userID string) ([]Assignment, error) {
	var out struct {
		Assignments []Assignment `json:"assignments"`
	}
	params := url.Values{"user_id": {userID}}
	if err := c.get(ctx, credentials, "/v1/assignments", params, &out); err != nil {
		return nil, err
	}
	return out.Assignments, nil
}

func (c *Client) get(ctx context.Context, credentials, path string, params url.Values, v interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	// Per-tenant credentials override the service key when present.
	token := c.apiKey
	if credentials != "" {
		token = credentials
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.Get(logging.CategoryExecutor).Error("provider %s returned status %d", path, resp.StatusCode)
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse provider response: %w", err)
	}
	return nil
}
