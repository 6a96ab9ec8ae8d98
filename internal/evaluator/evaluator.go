// Package evaluator scores a formatted response against its scorecard.
// Criteria are mutually independent, so they evaluate concurrently, and
// results are written back into the same criterion records so feedback
// stays traceable across refinement attempts.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"timeclerk/internal/llm"
	"timeclerk/internal/logging"
	"timeclerk/internal/types"
)

// maxConcurrent bounds parallel criterion judgements per turn.
const maxConcurrent = 4

// Evaluator judges responses with the model.
type Evaluator struct {
	client llm.Client
}

// New creates an Evaluator.
func New(client llm.Client) *Evaluator {
	return &Evaluator{client: client}
}

const judgeSystemPrompt = `You are a strict quality reviewer for an assistant's reply. Judge exactly one criterion. Respond with exactly one JSON object:
{"passed": true|false, "feedback": "when failed, one or two sentences saying what is missing or wrong; empty when passed"}`

// verdictEnvelope is the JSON shape the model must return per criterion.
type verdictEnvelope struct {
	Passed   bool   `json:"passed"`
	Feedback string `json:"feedback"`
}

// Evaluate judges every criterion of the scorecard against the content
// and records pass/fail plus feedback in place. The overall result is
// the logical AND of the per-criterion results.
func (e *Evaluator) Evaluate(ctx context.Context, requestID, content string, sc *types.Scorecard) (*types.ValidationResult, error) {
	rlog := logging.WithRequestID(logging.CategoryEvaluator, requestID)
	timer := logging.StartTimer(logging.CategoryEvaluator, "Evaluate")
	defer timer.Stop()

	if len(sc.Criteria) == 0 {
		return nil, fmt.Errorf("scorecard has no criteria")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for _, c := range sc.Criteria {
		c := c
		g.Go(func() error {
			passed, feedback, err := e.judge(gctx, content, c)
			if err != nil {
				return fmt.Errorf("criterion %s: %w", c.ID, err)
			}
			// Each goroutine owns exactly one criterion record.
			c.Evaluated = true
			c.Passed = passed
			c.Feedback = feedback
			if !passed {
				rlog.Info("criterion %s failed: %s", c.ID, feedback)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &types.ValidationResult{Passed: true}
	for _, c := range sc.Criteria {
		if !c.Passed {
			result.Passed = false
			result.Failed = append(result.Failed, c)
		}
	}
	rlog.Info("validation: passed=%v failed=%d/%d", result.Passed, len(result.Failed), len(sc.Criteria))
	return result, nil
}

// judge runs one criterion through the model.
func (e *Evaluator) judge(ctx context.Context, content string, c *types.Criterion) (bool, string, error) {
	prompt := fmt.Sprintf(`Criterion: %s
Expected: %s

Reply under review:
%s`, c.Description, c.Expected, content)

	raw, err := e.client.CompleteWithSystem(ctx, judgeSystemPrompt, prompt)
	if err != nil {
		return false, "", err
	}

	var v verdictEnvelope
	if err := llm.DecodeFirstJSON(raw, &v); err != nil {
		return false, "", fmt.Errorf("unparseable verdict: %w", err)
	}
	return v.Passed, strings.TrimSpace(v.Feedback), nil
}
