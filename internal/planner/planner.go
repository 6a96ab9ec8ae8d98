// Package planner decides what a conversation turn needs: whether to
// fetch data, which quality criteria gate the reply, and how to word the
// reply itself. It never calls the tool API or a delivery channel; those
// stay behind the executor and the gateways.
package planner

import (
	"context"
	"fmt"
	"strings"

	"timeclerk/internal/llm"
	"timeclerk/internal/logging"
	"timeclerk/internal/types"
)

// enumerationLimit is the policy constant dividing enumerated replies
// from summarized ones: up to this many records are listed one by one.
const enumerationLimit = 5

// criteria bounds for model-generated scorecards.
const (
	minCriteria = 2
	maxCriteria = 5
)

// MemoryRecaller supplies long-term memory snippets for prompt context.
// Implemented by the memory store; kept narrow so tests can script it.
type MemoryRecaller interface {
	Snippets(ctx context.Context, tenantID, userID, query string, k int) ([]string, error)
}

// Planner implements intent analysis, composition, refinement and the
// graceful-failure fallback.
type Planner struct {
	client     llm.Client
	memory     MemoryRecaller
	procedures []Procedure
	recallK    int
}

// Option configures a Planner.
type Option func(*Planner)

// WithMemory attaches a long-term memory recaller.
func WithMemory(m MemoryRecaller, k int) Option {
	return func(p *Planner) {
		p.memory = m
		p.recallK = k
	}
}

// WithProcedures replaces the builtin fast-path table.
func WithProcedures(procs []Procedure) Option {
	return func(p *Planner) {
		p.procedures = procs
	}
}

// New creates a Planner backed by the given model client.
func New(client llm.Client, opts ...Option) *Planner {
	p := &Planner{
		client:     client,
		procedures: builtinProcedures,
		recallK:    3,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// intentEnvelope is the JSON shape the model must return from Analyze.
type intentEnvelope struct {
	NeedsData   bool   `json:"needs_data"`
	Instruction string `json:"instruction"`
	Criteria    []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Expected    string `json:"expected"`
	} `json:"criteria"`
}

// Analyze produces the execution intent for a request. A deterministic
// procedure table is consulted first; on no match the model decides, and
// a malformed model answer is retried once before the turn fails.
func (p *Planner) Analyze(ctx context.Context, req types.ConversationRequest) (*types.ExecutionIntent, error) {
	rlog := logging.WithRequestID(logging.CategoryPlanner, req.RequestID)

	if proc := matchProcedure(req.Message, p.procedures); proc != nil {
		rlog.Info("fast-path procedure matched: %s", proc.Name)
		return &types.ExecutionIntent{
			NeedsData:   proc.NeedsData,
			Instruction: proc.Instruction,
			Scorecard:   scorecardFromProcedure(proc),
			FastPath:    true,
		}, nil
	}

	prompt := p.buildAnalyzePrompt(ctx, req)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := p.client.CompleteWithSystem(ctx, analyzeSystemPrompt, prompt)
		if err != nil {
			lastErr = err
			rlog.Warn("analyze model call failed (attempt %d): %v", attempt+1, err)
			continue
		}

		intent, err := parseIntent(raw)
		if err != nil {
			lastErr = err
			rlog.Warn("analyze output rejected (attempt %d): %v", attempt+1, err)
			continue
		}
		rlog.Info("analyze: needs_data=%v criteria=%d", intent.NeedsData, len(intent.Scorecard.Criteria))
		return intent, nil
	}

	return nil, fmt.Errorf("%w: %v", types.ErrPlannerDecision, lastErr)
}

// parseIntent validates the model's intent envelope.
func parseIntent(raw string) (*types.ExecutionIntent, error) {
	var env intentEnvelope
	if err := llm.DecodeFirstJSON(raw, &env); err != nil {
		return nil, err
	}

	if len(env.Criteria) < minCriteria || len(env.Criteria) > maxCriteria {
		return nil, fmt.Errorf("expected %d-%d criteria, got %d", minCriteria, maxCriteria, len(env.Criteria))
	}
	if env.NeedsData && strings.TrimSpace(env.Instruction) == "" {
		return nil, fmt.Errorf("needs_data set but instruction missing")
	}

	criteria := make([]*types.Criterion, 0, len(env.Criteria))
	seen := make(map[string]bool)
	for _, c := range env.Criteria {
		id := strings.TrimSpace(c.ID)
		if id == "" || c.Description == "" {
			return nil, fmt.Errorf("criterion missing id or description")
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate criterion id %q", id)
		}
		seen[id] = true
		criteria = append(criteria, &types.Criterion{
			ID:          id,
			Description: c.Description,
			Expected:    c.Expected,
		})
	}

	return &types.ExecutionIntent{
		NeedsData:   env.NeedsData,
		Instruction: strings.TrimSpace(env.Instruction),
		Scorecard:   types.Scorecard{Criteria: criteria},
	}, nil
}

// Compose produces the candidate reply from the request and tool data.
func (p *Planner) Compose(ctx context.Context, req types.ConversationRequest, result types.ToolResult) (*types.ComposedResponse, error) {
	rlog := logging.WithRequestID(logging.CategoryPlanner, req.RequestID)

	prompt := p.buildComposePrompt(ctx, req, result)
	text, err := p.client.CompleteWithSystem(ctx, composeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("compose failed: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("compose returned empty response")
	}
	rlog.Debug("composed %d chars", len(text))
	return &types.ComposedResponse{Text: text, Attempt: 0}, nil
}

// Refine regenerates the reply addressing every failed criterion's
// feedback. The old text is discarded, not merged.
func (p *Planner) Refine(ctx context.Context, req types.ConversationRequest, prev *types.ComposedResponse, failed []*types.Criterion) (*types.ComposedResponse, error) {
	rlog := logging.WithRequestID(logging.CategoryPlanner, req.RequestID)

	if len(failed) == 0 {
		return nil, fmt.Errorf("refine called with no failed criteria")
	}

	var fb strings.Builder
	for _, c := range failed {
		fmt.Fprintf(&fb, "- [%s] %s\n  Expected: %s\n  Feedback: %s\n", c.ID, c.Description, c.Expected, c.Feedback)
		rlog.Info("refining against criterion %s: %s", c.ID, c.Feedback)
	}

	prompt := fmt.Sprintf(`The previous draft answer failed quality review.

Previous draft:
%s

Failed criteria:
%s
Rewrite the answer from scratch so every failed criterion is satisfied,
while keeping everything that was already correct. Reply with the new
answer text only.`, prev.Text, fb.String())

	text, err := p.client.CompleteWithSystem(ctx, composeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("refine failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("refine returned empty response")
	}

	return &types.ComposedResponse{Text: text, Attempt: prev.Attempt + 1}, nil
}

// FailureReason categorizes why a turn could not be answered normally.
type FailureReason string

const (
	ReasonDataUnavailable FailureReason = "data_unavailable"
	ReasonQuality         FailureReason = "quality"
	ReasonInternal        FailureReason = "internal"
)

// ComposeGracefulFailure returns the user-safe fallback message. It is
// template-based, never a model call: by the time it runs, something is
// already wrong, and it must not leak internal detail. The text still
// goes through the channel formatter downstream.
func (p *Planner) ComposeGracefulFailure(req types.ConversationRequest, reason FailureReason) string {
	switch reason {
	case ReasonDataUnavailable:
		return "Sorry, I couldn't reach your time tracking data just now. Please try again in a few minutes, or contact support if it keeps happening."
	case ReasonQuality:
		return "Sorry, I wasn't able to put together a reliable answer to that. Please try rephrasing your question, or contact support if you need help right away."
	default:
		return "Sorry, something went wrong on our side. Please try again shortly, or contact support if the problem persists."
	}
}

const analyzeSystemPrompt = `You are the request analyst for a work-time assistant. Given a user message, decide whether answering requires fetching time-tracking data, and define the quality criteria the final answer must meet.

Respond with exactly one JSON object:
{
  "needs_data": true|false,
  "instruction": "plain-language instruction for the data-fetching agent (empty when needs_data is false)",
  "criteria": [
    {"id": "snake_case_id", "description": "what to check", "expected": "what a passing answer looks like"}
  ]
}
Provide between 2 and 5 criteria. Always include one criterion about fitting the delivery channel.`

const composeSystemPrompt = `You are a work-time assistant replying to an employee over a messaging channel. Be accurate, concise and friendly. Use only the data provided; never invent records or totals. Reply with the answer text only, no preamble.`

// buildAnalyzePrompt assembles the analyze user prompt, with recent
// history and any relevant long-term memory.
func (p *Planner) buildAnalyzePrompt(ctx context.Context, req types.ConversationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", req.Channel)
	if tz := req.Context["timezone"]; tz != "" {
		fmt.Fprintf(&b, "User timezone: %s\n", tz)
	}
	fmt.Fprintf(&b, "Current date: %s\n", req.Now.Format("2006-01-02"))
	p.writeHistory(&b, req)
	p.writeMemory(ctx, &b, req, req.Message)
	fmt.Fprintf(&b, "\nUser message: %s\n", req.Message)
	return b.String()
}

// buildComposePrompt assembles the compose user prompt. The enumeration
// policy rides in the prompt so the model applies it to any query shape.
func (p *Planner) buildComposePrompt(ctx context.Context, req types.ConversationRequest, result types.ToolResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", req.Channel)
	fmt.Fprintf(&b, "Current date: %s\n", req.Now.Format("2006-01-02"))
	p.writeHistory(&b, req)
	p.writeMemory(ctx, &b, req, req.Message)
	fmt.Fprintf(&b, "\nUser message: %s\n", req.Message)

	if result.Empty() {
		b.WriteString("\nNo external data was needed; answer conversationally from the context above.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nData fetched via %s with arguments %v:\n%s\n",
		result.Operation, result.Arguments, formatPayload(result.Payload))
	fmt.Fprintf(&b, "\nIf the data contains %d or fewer records, mention each one; with more, summarize and give totals. Always state the overall total when one is present.\n", enumerationLimit)
	return b.String()
}

func (p *Planner) writeHistory(b *strings.Builder, req types.ConversationRequest) {
	if len(req.History) == 0 {
		return
	}
	b.WriteString("\nRecent conversation:\n")
	for _, t := range req.History {
		fmt.Fprintf(b, "User: %s\nAssistant: %s\n", t.UserText, t.ResponseText)
	}
}

func (p *Planner) writeMemory(ctx context.Context, b *strings.Builder, req types.ConversationRequest, query string) {
	if p.memory == nil {
		return
	}
	snippets, err := p.memory.Snippets(ctx, req.TenantID, req.UserID, query, p.recallK)
	if err != nil {
		logging.WithRequestID(logging.CategoryPlanner, req.RequestID).Warn("memory recall failed: %v", err)
		return
	}
	if len(snippets) == 0 {
		return
	}
	b.WriteString("\nRelevant past exchanges:\n")
	for _, s := range snippets {
		fmt.Fprintf(b, "- %s\n", s)
	}
}

// formatPayload renders structured data for the prompt without inventing
// any presentation; the model does the wording, the formatter the layout.
func formatPayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for k, v := range payload {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return b.String()
}
