package executor

import (
	"context"
	"fmt"
	"strings"

	"timeclerk/internal/llm"
	"timeclerk/internal/logging"
	"timeclerk/internal/types"
)

// Executor turns a planner instruction into one catalog invocation. The
// model is the selection mechanism; the catalog is the safety boundary.
// Failures come back as ToolResult{Success: false}; nothing is thrown
// past this boundary.
type Executor struct {
	client  llm.Client
	catalog *Catalog
}

// New creates an Executor over the given catalog.
func New(client llm.Client, catalog *Catalog) *Executor {
	return &Executor{client: client, catalog: catalog}
}

// selectionEnvelope is the JSON shape the model must return.
type selectionEnvelope struct {
	Operation string                 `json:"operation"`
	Arguments map[string]interface{} `json:"arguments"`
}

const selectSystemPrompt = `You select exactly one operation from a catalog to satisfy a data-fetching instruction. Respond with exactly one JSON object:
{"operation": "<name from the catalog>", "arguments": {"param": "value"}}
Use only operations and parameters from the catalog. Dates are ISO 8601 (YYYY-MM-DD). Do not add commentary.`

// Execute selects and invokes one operation for the instruction.
func (e *Executor) Execute(ctx context.Context, req types.ConversationRequest, instruction string) types.ToolResult {
	rlog := logging.WithRequestID(logging.CategoryExecutor, req.RequestID)
	timer := logging.StartTimer(logging.CategoryExecutor, "Execute")
	defer timer.Stop()

	prompt := fmt.Sprintf("Catalog:\n%s\nCurrent date: %s\nUser timezone: %s\n\nInstruction: %s\n",
		e.catalog.describe(), req.Now.Format("2006-01-02"), req.Context["timezone"], instruction)

	raw, err := e.client.CompleteWithSystem(ctx, selectSystemPrompt, prompt)
	if err != nil {
		rlog.Error("selection model call failed: %v", err)
		return types.ToolResult{Success: false, Error: fmt.Sprintf("selection failed: %v", err)}
	}

	sel, err := parseSelection(raw)
	if err != nil {
		rlog.Error("selection output rejected: %v", err)
		return types.ToolResult{Success: false, Error: fmt.Sprintf("selection malformed: %v", err)}
	}

	// Fail closed on hallucinated names: validate against the catalog
	// before any invocation.
	if !e.catalog.Has(sel.Operation) {
		rlog.Error("selected operation not in catalog: %q", sel.Operation)
		return types.ToolResult{
			Success:   false,
			Operation: sel.Operation,
			Error:     fmt.Sprintf("%v: %q", types.ErrToolSelection, sel.Operation),
		}
	}

	rlog.Info("invoking %s with %v", sel.Operation, sel.Arguments)
	payload, err := e.catalog.Invoke(ctx, sel.Operation, sel.Arguments)
	if err != nil {
		rlog.Error("invocation failed for %s: %v", sel.Operation, err)
		return types.ToolResult{
			Success:   false,
			Operation: sel.Operation,
			Arguments: sel.Arguments,
			Error:     fmt.Sprintf("%v: %v", types.ErrToolInvocation, err),
		}
	}

	// Arguments ride along so composition can cite the exact range
	// queried instead of re-deriving it.
	return types.ToolResult{
		Success:   true,
		Operation: sel.Operation,
		Arguments: sel.Arguments,
		Payload:   payload,
	}
}

// parseSelection extracts and validates the model's operation choice.
func parseSelection(raw string) (*selectionEnvelope, error) {
	var sel selectionEnvelope
	if err := llm.DecodeFirstJSON(raw, &sel); err != nil {
		return nil, err
	}
	sel.Operation = strings.TrimSpace(sel.Operation)
	if sel.Operation == "" {
		return nil, fmt.Errorf("no operation named")
	}
	if sel.Arguments == nil {
		sel.Arguments = map[string]interface{}{}
	}
	return &sel, nil
}
