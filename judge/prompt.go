package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/tribunal"
)

const maxPayloadChars = 12000

const defaultSystemPrompt = `You are a strict evaluator of work produced by an autonomous agent.
Decide whether the result satisfies the goal and choose exactly one action:
- ACCEPT: the result satisfies the goal.
- RETRY: the step should be run again; the failure looks transient or local.
- REPLAN: the approach is wrong and the remaining plan must change.
- ESCALATE: a human must decide.

Report your confidence between 0.0 and 1.0 that the chosen action is correct.
Answer with a JSON object: {"action": "...", "confidence": 0.0, "reasoning": "..."}`

// buildJudgePrompt renders the goal, the deterministic criteria outcomes,
// soft constraint violations and the result payload.
func buildJudgePrompt(req tribunal.JudgeRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Goal\n%s\n", req.Goal.Name)
	if req.Goal.Description != "" {
		fmt.Fprintf(&b, "%s\n", req.Goal.Description)
	}

	if len(req.Goal.Criteria) > 0 {
		b.WriteString("\n## Success criteria\n")
		outcomes := map[string]tribunal.CriterionOutcome{}
		for _, o := range req.Criteria.Outcomes {
			outcomes[o.ID] = o
		}
		for _, c := range req.Goal.Criteria {
			fmt.Fprintf(&b, "- [%s] %s (metric: %s, weight: %.2f)", c.ID, c.Description, c.Metric, c.Weight)
			if o, ok := outcomes[c.ID]; ok && o.Evaluated {
				if o.Satisfied {
					b.WriteString(" -> satisfied")
				} else {
					b.WriteString(" -> NOT satisfied")
				}
			}
			b.WriteString("\n")
		}
		if req.Criteria.Coverage > 0 {
			fmt.Fprintf(&b, "Deterministic score: %.2f over %.0f%% of criteria weight\n", req.Criteria.Score, req.Criteria.Coverage*100)
		}
	}

	if len(req.SoftViolations) > 0 {
		b.WriteString("\n## Soft constraint violations\n")
		for _, c := range req.SoftViolations {
			fmt.Fprintf(&b, "- [%s] %s\n", c.ID, c.Description)
		}
	}

	if len(req.Goal.Context) > 0 {
		b.WriteString("\n## Context\n")
		b.WriteString(formatJSON(req.Goal.Context))
		b.WriteString("\n")
	}

	b.WriteString("\n## Result\n")
	if req.Result != nil {
		fmt.Fprintf(&b, "step: %s\n", req.Result.StepID)
		b.WriteString(formatJSON(req.Result.Payload))
	}
	b.WriteString("\n")

	return b.String()
}

func formatJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if len(raw) > maxPayloadChars {
		return string(raw[:maxPayloadChars]) + "\n... (truncated)"
	}
	return string(raw)
}
