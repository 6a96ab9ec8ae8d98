package planner

import (
	"strings"

	"timeclerk/internal/types"
)

// Procedure is one fast-path entry: a known request shape with a fixed
// executor instruction and a fixed scorecard. Matching is normalized
// substring so "check my timesheet please" still hits, but the triggers
// are specific enough to avoid false positives.
type Procedure struct {
	Name      string
	Triggers  []string
	NeedsData bool
	// Instruction is addressed to the tool-selecting executor in plain
	// language; it is an opaque string contract by design.
	Instruction string
	Criteria    []types.Criterion
}

// builtinProcedures is the deterministic procedure table consulted before
// any model call.
var builtinProcedures = []Procedure{
	{
		Name:        "timesheet_check",
		Triggers:    []string{"check my timesheet", "check timesheet", "my timesheet"},
		NeedsData:   true,
		Instruction: "Fetch the user's time entries for the current week, including per-entry hours and the weekly total.",
		Criteria: []types.Criterion{
			{ID: "data_completeness", Description: "Response reflects all returned time entries and the correct total hours", Expected: "Every entry is accounted for and the total matches the data"},
			{ID: "channel_fit", Description: "Response fits the delivery channel constraints", Expected: "No markup beyond what the channel allows, within length limits"},
		},
	},
	{
		Name:        "hours_today",
		Triggers:    []string{"hours today", "how long did i work today", "today's hours"},
		NeedsData:   true,
		Instruction: "Fetch the user's logged hours for today, broken down by entry.",
		Criteria: []types.Criterion{
			{ID: "data_completeness", Description: "Response states today's total hours from the data", Expected: "Total matches the returned daily total"},
			{ID: "channel_fit", Description: "Response fits the delivery channel constraints", Expected: "No markup beyond what the channel allows, within length limits"},
		},
	},
	{
		Name:        "hours_this_week",
		Triggers:    []string{"hours this week", "how many hours this week", "weekly hours"},
		NeedsData:   true,
		Instruction: "Fetch the user's logged hours for the current week with daily totals.",
		Criteria: []types.Criterion{
			{ID: "data_completeness", Description: "Response covers each day with logged time and the weekly total", Expected: "Daily figures and the total match the data"},
			{ID: "channel_fit", Description: "Response fits the delivery channel constraints", Expected: "No markup beyond what the channel allows, within length limits"},
		},
	},
	{
		Name:        "my_schedule",
		Triggers:    []string{"my schedule", "when am i working", "next shift"},
		NeedsData:   true,
		Instruction: "Fetch the user's upcoming schedule for the next seven days.",
		Criteria: []types.Criterion{
			{ID: "data_completeness", Description: "Response lists the upcoming shifts from the data", Expected: "Every scheduled shift is mentioned with day and time"},
			{ID: "channel_fit", Description: "Response fits the delivery channel constraints", Expected: "No markup beyond what the channel allows, within length limits"},
		},
	},
	{
		Name:        "greeting",
		Triggers:    []string{"hello", "hi there", "good morning", "good afternoon"},
		NeedsData:   false,
		Instruction: "",
		Criteria: []types.Criterion{
			{ID: "tone", Description: "Response is a brief, friendly greeting that offers help with time tracking", Expected: "Short, warm, mentions what the assistant can do"},
			{ID: "channel_fit", Description: "Response fits the delivery channel constraints", Expected: "No markup beyond what the channel allows, within length limits"},
		},
	},
}

// normalizeMessage lowercases and collapses whitespace and trailing
// punctuation for trigger matching.
func normalizeMessage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "?!. ")
	return strings.Join(strings.Fields(s), " ")
}

// matchProcedure returns the first procedure whose trigger appears in the
// normalized message, or nil.
func matchProcedure(message string, procedures []Procedure) *Procedure {
	norm := normalizeMessage(message)
	if norm == "" {
		return nil
	}
	for i := range procedures {
		for _, trigger := range procedures[i].Triggers {
			if strings.Contains(norm, trigger) {
				return &procedures[i]
			}
		}
	}
	return nil
}

// scorecardFromProcedure clones the procedure's criteria so evaluation
// state never leaks back into the table.
func scorecardFromProcedure(p *Procedure) types.Scorecard {
	criteria := make([]*types.Criterion, len(p.Criteria))
	for i, c := range p.Criteria {
		copied := c
		criteria[i] = &copied
	}
	return types.Scorecard{Criteria: criteria}
}
