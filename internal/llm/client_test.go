package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func anthropicBody(text string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"id":      "msg_1",
		"type":    "message",
		"role":    "assistant",
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	return b
}

func TestAnthropicRetriesAfter429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(anthropicBody("You logged 20 hours."))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "claude-sonnet-4-20250514",
		Timeout: 5 * time.Second,
	})

	got, err := c.Complete(context.Background(), "how many hours this week")
	require.NoError(t, err)
	require.Equal(t, "You logged 20 hours.", got)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAnthropicThrottleSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(anthropicBody("ok"))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		Model:       "claude-sonnet-4-20250514",
		Timeout:     5 * time.Second,
		MinInterval: 50 * time.Millisecond,
	})

	start := time.Now()
	_, err := c.Complete(context.Background(), "first")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "second")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAnthropicSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "nope",
		Timeout: 5 * time.Second,
	})

	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
}
