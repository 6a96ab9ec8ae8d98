// Package types holds the shared conversation domain types passed between
// the planner, executor, formatter, evaluator and orchestrator.
package types

import "time"

// Channel identifies the delivery surface a conversation runs over.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelChat     Channel = "chat"
	ChannelSlack    Channel = "slack"
	ChannelTelegram Channel = "telegram"
)

// Direction of a stored turn.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Turn is one prior exchange in the conversation window.
type Turn struct {
	UserText     string    `json:"user_text"`
	ResponseText string    `json:"response_text"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConversationRequest is the immutable input to one orchestration run.
// Now is captured once at request creation so step logic stays
// deterministic on replay.
type ConversationRequest struct {
	RequestID     string            `json:"request_id"`
	TenantID      string            `json:"tenant_id"`
	UserID        string            `json:"user_id"`
	Channel       Channel           `json:"channel"`
	SenderAddress string            `json:"sender_address"`
	Message       string            `json:"message"`
	History       []Turn            `json:"history,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
	Now           time.Time         `json:"now"`
}

// HistoryWindow bounds how many prior turns ride along with a request.
const HistoryWindow = 10

// Criterion is one scorecard entry. Evaluation results are written back
// in place, keyed by ID, so refinement feedback stays attached to the
// same criterion across attempts.
type Criterion struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Expected    string `json:"expected"`

	Evaluated bool   `json:"evaluated"`
	Passed    bool   `json:"passed"`
	Feedback  string `json:"feedback,omitempty"`
}

// Scorecard is the ordered set of criteria gating delivery.
type Scorecard struct {
	Criteria []*Criterion `json:"criteria"`
}

// ByID returns the criterion with the given id, or nil.
func (s *Scorecard) ByID(id string) *Criterion {
	for _, c := range s.Criteria {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Failed returns the criteria that evaluated to a failure.
func (s *Scorecard) Failed() []*Criterion {
	var out []*Criterion
	for _, c := range s.Criteria {
		if c.Evaluated && !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// ExecutionIntent is the planner's decision for a request.
type ExecutionIntent struct {
	NeedsData   bool      `json:"needs_data"`
	Instruction string    `json:"instruction,omitempty"`
	Scorecard   Scorecard `json:"scorecard"`
	FastPath    bool      `json:"fast_path"`
}

// ToolResult is the executor's structured output. Payload is data, never
// prose; formatting happens only in the channel formatter.
type ToolResult struct {
	Success   bool                   `json:"success"`
	Operation string                 `json:"operation,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Empty reports whether the result carries no data, either because the
// planner decided no tool call was needed or because nothing came back.
func (r ToolResult) Empty() bool {
	return r.Operation == "" && len(r.Payload) == 0
}

// ComposedResponse is one plain-text candidate answer. Each refinement
// attempt produces a fresh instance; old text is discarded, not merged.
type ComposedResponse struct {
	Text    string `json:"text"`
	Attempt int    `json:"attempt"`
}

// FormattedResponse is channel-legal content, split into ordered parts
// when the channel's length cap requires it.
type FormattedResponse struct {
	Channel Channel  `json:"channel"`
	Content string   `json:"content"`
	IsSplit bool     `json:"is_split"`
	Parts   []string `json:"parts,omitempty"`
}

// ValidationResult references failed criteria by pointer so refinement
// feedback is traceable to the exact criterion records.
type ValidationResult struct {
	Passed bool         `json:"passed"`
	Failed []*Criterion `json:"-"`
}

// DeliveryReceipt is what the outbound gateway reports for a send.
type DeliveryReceipt struct {
	ExternalMessageID string `json:"external_message_id"`
	Status            string `json:"status"`
	Duplicate         bool   `json:"duplicate"`
}

// TurnRecord is one append-only history/audit row.
type TurnRecord struct {
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id"`
	Channel   Channel           `json:"channel"`
	Direction Direction         `json:"direction"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// User is a resolved directory entry for an inbound sender address.
type User struct {
	TenantID    string `json:"tenant_id"`
	UserID      string `json:"user_id"`
	Address     string `json:"address"`
	Credentials string `json:"credentials"`
	Timezone    string `json:"timezone"`
}
