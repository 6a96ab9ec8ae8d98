package planner

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timeclerk/internal/types"
)

// scriptedClient returns canned responses in order.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
	systems   []string
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	i := c.calls
	c.calls++
	c.systems = append(c.systems, system)
	c.prompts = append(c.prompts, prompt)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", fmt.Errorf("no scripted response for call %d", i)
}

func testRequest(message string) types.ConversationRequest {
	return types.ConversationRequest{
		RequestID:     "req-1",
		TenantID:      "acme",
		UserID:        "u42",
		Channel:       types.ChannelSMS,
		SenderAddress: "+15550001111",
		Message:       message,
		Now:           time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeFastPathSkipsModel(t *testing.T) {
	client := &scriptedClient{}
	p := New(client)

	intent, err := p.Analyze(context.Background(), testRequest("how many hours today?"))
	require.NoError(t, err)
	require.True(t, intent.FastPath)
	require.True(t, intent.NeedsData)
	require.NotEmpty(t, intent.Instruction)
	require.GreaterOrEqual(t, len(intent.Scorecard.Criteria), 2)
	require.Equal(t, 0, client.calls, "fast path must not call the model")
}

func TestAnalyzeFastPathClonesCriteria(t *testing.T) {
	p := New(&scriptedClient{})
	req := testRequest("what's my schedule this week?")

	a, err := p.Analyze(context.Background(), req)
	require.NoError(t, err)
	b, err := p.Analyze(context.Background(), req)
	require.NoError(t, err)

	a.Scorecard.Criteria[0].Evaluated = true
	a.Scorecard.Criteria[0].Passed = false
	a.Scorecard.Criteria[0].Feedback = "scribbled on"

	if b.Scorecard.Criteria[0].Evaluated {
		t.Fatal("criteria must be cloned per turn, not shared")
	}
}

func TestAnalyzeParsesModelIntent(t *testing.T) {
	raw := `Here is my decision:
{"needs_data": true, "instruction": "fetch entries for last month", "criteria": [
  {"id": "data_completeness", "description": "covers the range", "expected": "all entries"},
  {"id": "channel_fit", "description": "fits sms", "expected": "short"}
]}`
	client := &scriptedClient{responses: []string{raw}}
	p := New(client)

	intent, err := p.Analyze(context.Background(), testRequest("what did I do around the end of last month, roughly"))
	require.NoError(t, err)
	require.False(t, intent.FastPath)
	require.True(t, intent.NeedsData)
	require.Equal(t, "fetch entries for last month", intent.Instruction)
	require.Len(t, intent.Scorecard.Criteria, 2)
	require.NotNil(t, intent.Scorecard.ByID("channel_fit"))
}

func TestAnalyzeRetriesOnceOnMalformedOutput(t *testing.T) {
	good := `{"needs_data": false, "instruction": "", "criteria": [
  {"id": "a", "description": "x", "expected": "y"},
  {"id": "b", "description": "x", "expected": "y"}
]}`
	client := &scriptedClient{responses: []string{"not json at all", good}}
	p := New(client)

	intent, err := p.Analyze(context.Background(), testRequest("something unusual and rambling"))
	require.NoError(t, err)
	require.Equal(t, 2, client.calls)
	require.False(t, intent.NeedsData)
}

func TestAnalyzeFailsAfterTwoBadAttempts(t *testing.T) {
	client := &scriptedClient{responses: []string{"garbage", "more garbage"}}
	p := New(client)

	_, err := p.Analyze(context.Background(), testRequest("something unusual and rambling"))
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrPlannerDecision)
}

func TestParseIntentRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"too few criteria", `{"needs_data": false, "criteria": [{"id":"a","description":"x"}]}`},
		{"too many criteria", `{"needs_data": false, "criteria": [
			{"id":"a","description":"x"},{"id":"b","description":"x"},{"id":"c","description":"x"},
			{"id":"d","description":"x"},{"id":"e","description":"x"},{"id":"f","description":"x"}]}`},
		{"needs data without instruction", `{"needs_data": true, "instruction": " ", "criteria": [
			{"id":"a","description":"x"},{"id":"b","description":"x"}]}`},
		{"duplicate ids", `{"needs_data": false, "criteria": [
			{"id":"a","description":"x"},{"id":"a","description":"y"}]}`},
		{"missing id", `{"needs_data": false, "criteria": [
			{"id":"","description":"x"},{"id":"b","description":"x"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseIntent(tc.raw); err == nil {
				t.Fatalf("expected rejection for %s", tc.name)
			}
		})
	}
}

func TestComposeIncludesToolData(t *testing.T) {
	client := &scriptedClient{responses: []string{"You logged 20 hours this week across 3 entries."}}
	p := New(client)

	result := types.ToolResult{
		Success:   true,
		Operation: "get_time_entries",
		Arguments: map[string]interface{}{"from": "2025-05-26", "to": "2025-06-01"},
		Payload:   map[string]interface{}{"total_hours": 20.0, "entry_count": 3},
	}
	resp, err := p.Compose(context.Background(), testRequest("how did my week go?"), result)
	require.NoError(t, err)
	require.Equal(t, 0, resp.Attempt)
	require.NotEmpty(t, resp.Text)

	prompt := client.prompts[0]
	require.Contains(t, prompt, "get_time_entries")
	require.Contains(t, prompt, "total_hours")
}

func TestComposeRejectsEmptyModelOutput(t *testing.T) {
	client := &scriptedClient{responses: []string{"   \n"}}
	p := New(client)

	_, err := p.Compose(context.Background(), testRequest("hi"), types.ToolResult{})
	require.Error(t, err)
}

func TestRefineIncrementsAttemptAndCarriesFeedback(t *testing.T) {
	client := &scriptedClient{responses: []string{"You logged 20 hours this week (Mon 8h, Tue 12h)."}}
	p := New(client)

	prev := &types.ComposedResponse{Text: "You worked a lot.", Attempt: 0}
	failed := []*types.Criterion{{
		ID:          "data_completeness",
		Description: "mentions the actual totals",
		Expected:    "concrete hours from the data",
		Evaluated:   true,
		Passed:      false,
		Feedback:    "no numbers given",
	}}

	next, err := p.Refine(context.Background(), testRequest("how did my week go?"), prev, failed)
	require.NoError(t, err)
	require.Equal(t, 1, next.Attempt)
	require.NotEqual(t, prev.Text, next.Text)
	require.Contains(t, client.prompts[0], "no numbers given")
	require.Contains(t, client.prompts[0], prev.Text)
}

func TestRefineRequiresFailedCriteria(t *testing.T) {
	p := New(&scriptedClient{})
	_, err := p.Refine(context.Background(), testRequest("x"), &types.ComposedResponse{Text: "t"}, nil)
	require.Error(t, err)
}

func TestComposeGracefulFailureNeverLeaksInternals(t *testing.T) {
	p := New(&scriptedClient{})
	req := testRequest("hours?")

	for _, reason := range []FailureReason{ReasonDataUnavailable, ReasonQuality, ReasonInternal, FailureReason("unknown")} {
		text := p.ComposeGracefulFailure(req, reason)
		require.NotEmpty(t, text)
		lower := strings.ToLower(text)
		for _, leak := range []string{"error", "nil", "panic", "stack", "sql", "http", "llm"} {
			require.NotContains(t, lower, leak, "reason %s", reason)
		}
	}
}

func TestMatchProcedureNormalizes(t *testing.T) {
	if matchProcedure("  HOW MANY Hours TODAY??  ", builtinProcedures) == nil {
		t.Fatal("expected case and punctuation insensitive match")
	}
	if matchProcedure("tell me a joke", builtinProcedures) != nil {
		t.Fatal("unrelated message should not match a procedure")
	}
}
