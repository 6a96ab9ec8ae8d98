package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timeclerk/internal/types"
)

type fakeClient struct {
	response string
	err      error
	prompt   string
}

func (c *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *fakeClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	c.prompt = prompt
	return c.response, c.err
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog()
	err := c.Register(OperationSpec{
		Name:        "get_daily_totals",
		Description: "Total logged hours per day in a date range",
		Parameters: []ParamSpec{
			{Name: "from", Type: "date", Required: true, Description: "start date"},
			{Name: "to", Type: "date", Required: true, Description: "end date"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"total_hours": 20.0}, nil
	})
	require.NoError(t, err)
	err = c.Register(OperationSpec{
		Name:        "get_schedule",
		Description: "Upcoming scheduled shifts",
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("provider returned status 503")
	})
	require.NoError(t, err)
	return c
}

func testRequest() types.ConversationRequest {
	return types.ConversationRequest{
		RequestID: "req-1",
		Channel:   types.ChannelSMS,
		Now:       time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestCatalogRejectsDuplicateAndEmpty(t *testing.T) {
	c := NewCatalog()
	require.Error(t, c.Register(OperationSpec{Name: ""}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) { return nil, nil }))
	require.Error(t, c.Register(OperationSpec{Name: "op"}, nil))
	require.NoError(t, c.Register(OperationSpec{Name: "op"}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) { return nil, nil }))
	require.Error(t, c.Register(OperationSpec{Name: "op"}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) { return nil, nil }))
}

func TestCatalogInvokeUnknownFailsClosed(t *testing.T) {
	c := testCatalog(t)
	_, err := c.Invoke(context.Background(), "delete_everything", nil)
	require.Error(t, err)
}

func TestExecuteSuccess(t *testing.T) {
	client := &fakeClient{response: `{"operation": "get_daily_totals", "arguments": {"from": "2025-06-02", "to": "2025-06-02"}}`}
	e := New(client, testCatalog(t))

	result := e.Execute(context.Background(), testRequest(), "fetch today's hours")
	require.True(t, result.Success)
	require.Equal(t, "get_daily_totals", result.Operation)
	require.Equal(t, "2025-06-02", result.Arguments["from"])
	require.Equal(t, 20.0, result.Payload["total_hours"])

	// The selection prompt must describe the catalog and the request date.
	require.Contains(t, client.prompt, "get_daily_totals")
	require.Contains(t, client.prompt, "2025-06-02")
}

func TestExecuteHallucinatedOperationFailsClosed(t *testing.T) {
	client := &fakeClient{response: `{"operation": "get_payroll", "arguments": {}}`}
	e := New(client, testCatalog(t))

	result := e.Execute(context.Background(), testRequest(), "fetch payroll")
	require.False(t, result.Success)
	require.Equal(t, "get_payroll", result.Operation)
	require.Contains(t, result.Error, "get_payroll")
	require.Empty(t, result.Payload)
}

func TestExecuteInvocationFailure(t *testing.T) {
	client := &fakeClient{response: `{"operation": "get_schedule", "arguments": {}}`}
	e := New(client, testCatalog(t))

	result := e.Execute(context.Background(), testRequest(), "fetch schedule")
	require.False(t, result.Success)
	require.Equal(t, "get_schedule", result.Operation)
	require.Contains(t, result.Error, "503")
}

func TestExecuteModelErrorNeverPanics(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("rate limited")}
	e := New(client, testCatalog(t))

	result := e.Execute(context.Background(), testRequest(), "fetch anything")
	require.False(t, result.Success)
	require.Contains(t, result.Error, "selection failed")
}

func TestExecuteMalformedSelection(t *testing.T) {
	client := &fakeClient{response: "I think get_daily_totals would be best here"}
	e := New(client, testCatalog(t))

	result := e.Execute(context.Background(), testRequest(), "fetch hours")
	require.False(t, result.Success)
	require.Contains(t, result.Error, "selection malformed")
}

func TestParseSelectionExtractsFromProse(t *testing.T) {
	sel, err := parseSelection(`Sure! {"operation": "get_daily_totals", "arguments": {"from": "2025-06-01"}} done`)
	require.NoError(t, err)
	require.Equal(t, "get_daily_totals", sel.Operation)
	require.NotNil(t, sel.Arguments)
}

func TestDescribeListsOperationsInOrder(t *testing.T) {
	c := testCatalog(t)
	desc := c.describe()
	first := strings.Index(desc, "get_daily_totals")
	second := strings.Index(desc, "get_schedule")
	require.True(t, first >= 0 && second > first)
	require.Contains(t, desc, "required")
}
