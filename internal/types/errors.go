package types

import "errors"

// Failure taxonomy for one conversation turn. All fatal paths terminate
// in a user-visible graceful-failure message; these sentinels drive the
// routing, and the raw detail stays in logs.
var (
	// ErrPlannerDecision: the model returned a malformed or incomplete
	// intent. Retried once by the planner, then fatal.
	ErrPlannerDecision = errors.New("planner returned malformed intent")

	// ErrToolSelection: the selected operation is not in the catalog.
	// Fatal, routes to graceful failure.
	ErrToolSelection = errors.New("selected operation not in catalog")

	// ErrToolInvocation: the upstream data source failed. Fatal, routes
	// to graceful failure, never retried as a refinement.
	ErrToolInvocation = errors.New("tool invocation failed")

	// ErrFormatting: malformed channel policy. Should not occur in a
	// correct configuration, so it is loud.
	ErrFormatting = errors.New("channel formatting failed")

	// ErrDelivery: outbound send failed after retries.
	ErrDelivery = errors.New("delivery failed")
)
