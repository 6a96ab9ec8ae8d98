// Package orchestrator drives one conversation turn through analysis,
// tool execution, composition, formatting, validation and delivery.
package orchestrator

import (
	"context"
	"fmt"

	"timeclerk/internal/channel"
	"timeclerk/internal/logging"
	"timeclerk/internal/planner"
	"timeclerk/internal/types"
)

// State names one step of the turn pipeline. The trace of visited
// states is recorded on the outcome for auditing.
type State string

const (
	StateAnalyze      State = "ANALYZE"
	StateExecuteTool  State = "EXECUTE_TOOL"
	StateCompose      State = "COMPOSE"
	StateFormat       State = "FORMAT"
	StateValidate     State = "VALIDATE"
	StateRefine       State = "REFINE"
	StateGracefulFail State = "GRACEFUL_FAIL"
	StateDeliver      State = "DELIVER"
)

// refineBudget caps regeneration at one attempt per turn. A second
// validation failure always degrades to a graceful failure.
const refineBudget = 1

// Plan is the planner surface the orchestrator depends on.
type Plan interface {
	Analyze(ctx context.Context, req types.ConversationRequest) (*types.ExecutionIntent, error)
	Compose(ctx context.Context, req types.ConversationRequest, result types.ToolResult) (*types.ComposedResponse, error)
	Refine(ctx context.Context, req types.ConversationRequest, prev *types.ComposedResponse, failed []*types.Criterion) (*types.ComposedResponse, error)
	ComposeGracefulFailure(req types.ConversationRequest, reason planner.FailureReason) string
}

// ToolRunner executes the planner's data instruction against the tool
// catalog scoped to one user.
type ToolRunner interface {
	Execute(ctx context.Context, req types.ConversationRequest, instruction string) types.ToolResult
}

// ToolRunnerFactory builds a runner whose catalog is bound to the
// resolved user's credentials.
type ToolRunnerFactory func(user types.User) (ToolRunner, error)

// Validator scores composed content against the turn's scorecard.
type Validator interface {
	Evaluate(ctx context.Context, requestID, content string, sc *types.Scorecard) (*types.ValidationResult, error)
}

// Sender delivers a formatted response to a destination address.
type Sender interface {
	Has(ch types.Channel) bool
	Deliver(ctx context.Context, destination string, resp types.FormattedResponse) (types.DeliveryReceipt, error)
}

// Ledger is the persistence surface for history and delivery claims.
type Ledger interface {
	AppendTurn(rec types.TurnRecord) error
	ClaimDelivery(requestID string, channel types.Channel, destination string) (bool, error)
	ReleaseDelivery(requestID string) error
	MarkDelivered(requestID string, receipt types.DeliveryReceipt) error
	Delivery(requestID string) (types.DeliveryReceipt, bool, error)
}

// Memorizer stores the completed exchange for later retrieval.
type Memorizer interface {
	Add(ctx context.Context, tenantID, userID, userText, responseText string, metadata map[string]string) error
}

// Outcome is the audited result of one turn.
type Outcome struct {
	RequestID string                `json:"request_id"`
	Delivered bool                  `json:"delivered"`
	Graceful  bool                  `json:"graceful"`
	Attempts  int                   `json:"attempts"`
	Response  types.FormattedResponse `json:"response"`
	Receipt   types.DeliveryReceipt `json:"receipt"`
	Trace     []State               `json:"trace"`
	Err       string                `json:"error,omitempty"`
}

// Orchestrator wires the turn pipeline together.
type Orchestrator struct {
	plan      Plan
	tools     ToolRunnerFactory
	formatter *channel.Formatter
	validator Validator
	sender    Sender
	ledger    Ledger
	memory    Memorizer
}

// New builds an orchestrator. memory may be nil when no vector store is
// configured.
func New(plan Plan, tools ToolRunnerFactory, formatter *channel.Formatter, validator Validator, sender Sender, ledger Ledger, memory Memorizer) *Orchestrator {
	return &Orchestrator{
		plan:      plan,
		tools:     tools,
		formatter: formatter,
		validator: validator,
		sender:    sender,
		ledger:    ledger,
		memory:    memory,
	}
}

// Run executes one full turn for an already-resolved user. It never
// returns a planner or tool error to the caller; every internal
// failure degrades into a graceful response on the user's channel.
func (o *Orchestrator) Run(ctx context.Context, req types.ConversationRequest, user types.User) Outcome {
	log := logging.WithRequestID(logging.CategoryOrchestrator, req.RequestID)
	timer := logging.StartTimer(logging.CategoryOrchestrator, "Run")
	defer timer.Stop()

	out := Outcome{RequestID: req.RequestID}

	// Nothing downstream can reach the user without a gateway, so bail
	// out before any model call.
	if !o.sender.Has(req.Channel) {
		log.Error("no gateway configured for channel %s", req.Channel)
		out.Err = "no gateway for channel"
		return out
	}

	// A delivery record for this request id means a provider
	// redelivery; the inbound turn is already on file.
	if _, seen, err := o.ledger.Delivery(req.RequestID); err != nil || !seen {
		o.recordInbound(req)
	}

	// ANALYZE
	out.Trace = append(out.Trace, StateAnalyze)
	intent, err := o.plan.Analyze(ctx, req)
	if err != nil {
		log.Error("analysis failed: %v", err)
		return o.gracefulFail(ctx, req, user, planner.ReasonInternal, out)
	}
	log.Debug("intent: needs_data=%v fast_path=%v criteria=%d",
		intent.NeedsData, intent.FastPath, len(intent.Scorecard.Criteria))

	// EXECUTE_TOOL
	var result types.ToolResult
	if intent.NeedsData {
		out.Trace = append(out.Trace, StateExecuteTool)
		runner, err := o.tools(user)
		if err != nil {
			log.Error("tool catalog unavailable: %v", err)
			return o.gracefulFail(ctx, req, user, planner.ReasonInternal, out)
		}
		result = runner.Execute(ctx, req, intent.Instruction)
		if !result.Success {
			// A failed tool call means the data does not exist to
			// compose from. Refinement cannot fix that.
			log.Warn("tool execution failed: %s", result.Error)
			return o.gracefulFail(ctx, req, user, planner.ReasonDataUnavailable, out)
		}
	}

	// COMPOSE
	out.Trace = append(out.Trace, StateCompose)
	composed, err := o.plan.Compose(ctx, req, result)
	if err != nil {
		log.Error("composition failed: %v", err)
		return o.gracefulFail(ctx, req, user, planner.ReasonInternal, out)
	}

	refinements := 0
	for {
		out.Attempts = composed.Attempt

		// FORMAT
		out.Trace = append(out.Trace, StateFormat)
		formatted, err := o.formatter.Format(composed.Text, req.Channel)
		if err != nil {
			log.Error("formatting failed: %v", err)
			return o.gracefulFail(ctx, req, user, planner.ReasonInternal, out)
		}

		// VALIDATE
		out.Trace = append(out.Trace, StateValidate)
		verdict, err := o.validator.Evaluate(ctx, req.RequestID, formatted.Content, &intent.Scorecard)
		if err != nil {
			log.Error("validation failed: %v", err)
			return o.gracefulFail(ctx, req, user, planner.ReasonInternal, out)
		}
		if verdict.Passed {
			out.Response = *formatted
			return o.deliver(ctx, req, user, out, composed.Text, intent, result)
		}

		if refinements >= refineBudget {
			log.Warn("validation failed after refinement, degrading")
			return o.gracefulFail(ctx, req, user, planner.ReasonQuality, out)
		}

		// REFINE
		out.Trace = append(out.Trace, StateRefine)
		refinements++
		log.Info("refining attempt %d (%d criteria failed)", composed.Attempt, len(verdict.Failed))
		composed, err = o.plan.Refine(ctx, req, composed, verdict.Failed)
		if err != nil {
			log.Error("refinement failed: %v", err)
			return o.gracefulFail(ctx, req, user, planner.ReasonQuality, out)
		}
	}
}

// gracefulFail formats and delivers the fixed fallback text for the
// channel. The fallback skips validation; it is pre-written and must
// always reach the user.
func (o *Orchestrator) gracefulFail(ctx context.Context, req types.ConversationRequest, user types.User, reason planner.FailureReason, out Outcome) Outcome {
	out.Trace = append(out.Trace, StateGracefulFail)
	out.Graceful = true
	out.Err = string(reason)

	text := o.plan.ComposeGracefulFailure(req, reason)
	formatted, err := o.formatter.Format(text, req.Channel)
	if err != nil {
		formatted = &types.FormattedResponse{Channel: req.Channel, Content: text}
	}
	out.Response = *formatted
	return o.deliver(ctx, req, user, out, text, nil, types.ToolResult{})
}

// deliver claims the request id, sends, and records the outbound turn.
// A request already claimed by an earlier run is reported as a
// duplicate without a second send.
func (o *Orchestrator) deliver(ctx context.Context, req types.ConversationRequest, user types.User, out Outcome, plainText string, intent *types.ExecutionIntent, result types.ToolResult) Outcome {
	log := logging.WithRequestID(logging.CategoryOrchestrator, req.RequestID)
	out.Trace = append(out.Trace, StateDeliver)

	claimed, err := o.ledger.ClaimDelivery(req.RequestID, req.Channel, req.SenderAddress)
	if err != nil {
		log.Error("delivery claim failed: %v", err)
		out.Err = "delivery claim failed"
		return out
	}
	if !claimed {
		if prev, ok, err := o.ledger.Delivery(req.RequestID); err == nil && ok {
			out.Receipt = prev
		}
		out.Receipt.Duplicate = true
		out.Delivered = true
		log.Info("duplicate request, skipping send")
		return out
	}

	receipt, err := o.sender.Deliver(ctx, req.SenderAddress, out.Response)
	if err != nil {
		log.Error("delivery failed: %v", err)
		// Release the claim so a provider redelivery of the same
		// message id can retry the send.
		if rerr := o.ledger.ReleaseDelivery(req.RequestID); rerr != nil {
			log.Warn("failed to release delivery claim: %v", rerr)
		}
		out.Err = "delivery failed"
		return out
	}
	if err := o.ledger.MarkDelivered(req.RequestID, receipt); err != nil {
		log.Warn("failed to record receipt: %v", err)
	}
	out.Receipt = receipt
	out.Delivered = true

	o.recordOutbound(req, plainText, out)
	if !out.Graceful {
		o.memorize(ctx, req, plainText, intent, result)
	}
	log.Info("delivered (graceful=%v attempts=%d parts=%d)", out.Graceful, out.Attempts, len(out.Response.Parts))
	return out
}

func (o *Orchestrator) recordInbound(req types.ConversationRequest) {
	err := o.ledger.AppendTurn(types.TurnRecord{
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		Channel:   req.Channel,
		Direction: types.DirectionInbound,
		Content:   req.Message,
		Metadata:  map[string]string{"request_id": req.RequestID},
		Timestamp: req.Now,
	})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("failed to record inbound turn: %v", err)
	}
}

func (o *Orchestrator) recordOutbound(req types.ConversationRequest, text string, out Outcome) {
	meta := map[string]string{
		"request_id": req.RequestID,
		"graceful":   fmt.Sprintf("%v", out.Graceful),
		"attempts":   fmt.Sprintf("%d", out.Attempts),
		"trace":      traceString(out.Trace),
	}
	err := o.ledger.AppendTurn(types.TurnRecord{
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		Channel:   req.Channel,
		Direction: types.DirectionOutbound,
		Content:   text,
		Metadata:  meta,
		Timestamp: req.Now,
	})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("failed to record outbound turn: %v", err)
	}
}

// memorize stores the validated exchange. Failures are logged and
// swallowed; memory is an enrichment, not a delivery dependency.
func (o *Orchestrator) memorize(ctx context.Context, req types.ConversationRequest, responseText string, intent *types.ExecutionIntent, result types.ToolResult) {
	if o.memory == nil {
		return
	}
	meta := map[string]string{"channel": string(req.Channel)}
	if intent != nil && intent.NeedsData && !result.Empty() {
		meta["operation"] = result.Operation
	}
	if err := o.memory.Add(ctx, req.TenantID, req.UserID, req.Message, responseText, meta); err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("failed to store memory: %v", err)
	}
}

func traceString(trace []State) string {
	s := ""
	for i, st := range trace {
		if i > 0 {
			s += ">"
		}
		s += string(st)
	}
	return s
}
