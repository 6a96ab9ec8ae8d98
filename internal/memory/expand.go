package memory

import "strings"

// Query expansion widens retrieval for short conversational questions.
// The original query is always element zero, so expansion can only add
// candidates, never remove them.

var temporalTerms = []string{
	"today", "yesterday", "tomorrow", "this week", "last week",
	"this month", "last month",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

var roleTerms = []string{
	"role", "project", "assignment", "assigned", "team", "task",
}

var scheduleTerms = []string{
	"schedule", "shift", "shifts", "working", "roster", "on call",
}

// ExpandQuery returns the original query followed by up to two augmented
// variants based on detected categories.
func ExpandQuery(query string) []string {
	queries := []string{query}
	lower := strings.ToLower(query)

	variants := make([]string, 0, 2)
	if containsAny(lower, temporalTerms) {
		variants = append(variants, query+" hours logged time entries")
	}
	if containsAny(lower, scheduleTerms) {
		variants = append(variants, query+" work schedule shifts")
	}
	if containsAny(lower, roleTerms) {
		variants = append(variants, query+" project assignment role")
	}
	if len(variants) > 2 {
		variants = variants[:2]
	}
	return append(queries, variants...)
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
