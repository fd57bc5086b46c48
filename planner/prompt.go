package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/tribunal"
)

const maxContextChars = 8000

const defaultSystemPrompt = `You revise execution plans for an autonomous agent.
Earlier attempts at the goal failed or were rejected. Using the feedback, write
the steps that remain to reach the goal. Do not repeat steps that are already
completed. Avoid approaches that already failed, and never produce output that
breaks a listed constraint.

Answer with a JSON object:
{"steps": [{"id": "...", "description": "...", "tool": "...", "args": {}}]}`

// buildPlanPrompt renders the goal, what has been done so far and what went
// wrong.
func buildPlanPrompt(fb tribunal.Feedback, tools []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Goal\n%s\n", fb.Goal.Name)
	if fb.Goal.Description != "" {
		fmt.Fprintf(&b, "%s\n", fb.Goal.Description)
	}
	for _, c := range fb.Goal.Criteria {
		fmt.Fprintf(&b, "- criterion [%s] %s\n", c.ID, c.Description)
	}
	for _, c := range fb.Goal.Constraints {
		fmt.Fprintf(&b, "- %s constraint [%s] %s\n", c.Type, c.ID, c.Description)
	}

	if len(tools) > 0 {
		fmt.Fprintf(&b, "\n## Available tools\n%s\n", strings.Join(tools, ", "))
	}

	if len(fb.Completed) > 0 {
		b.WriteString("\n## Completed steps\n")
		for _, s := range fb.Completed {
			fmt.Fprintf(&b, "- [%s] %s\n", s.Step.ID, s.Step.Description)
		}
	}

	if len(fb.Failed) > 0 {
		b.WriteString("\n## Failed steps\n")
		for _, f := range fb.Failed {
			fmt.Fprintf(&b, "- [%s] %s (retries: %d)\n", f.Step.ID, f.Step.Description, f.Retries)
			for _, a := range f.Attempts {
				fmt.Fprintf(&b, "  - attempt %d: %s\n", a.Number, a.Error)
			}
		}
	}

	if len(fb.Violations) > 0 {
		b.WriteString("\n## Constraint violations\n")
		for _, v := range fb.Violations {
			fmt.Fprintf(&b, "- [%s] at step %s: %s\n", v.ConstraintID, v.StepID, v.Reasoning)
		}
	}

	if len(fb.PlanningErrors) > 0 {
		b.WriteString("\n## Rejected plans\n")
		for _, e := range fb.PlanningErrors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	if len(fb.Remaining) > 0 {
		b.WriteString("\n## Previously planned remaining steps\n")
		for _, s := range fb.Remaining {
			fmt.Fprintf(&b, "- [%s] %s\n", s.ID, s.Description)
		}
	}

	if len(fb.Context) > 0 {
		b.WriteString("\n## Context\n")
		raw, err := json.MarshalIndent(fb.Context, "", "  ")
		if err != nil {
			fmt.Fprintf(&b, "%v\n", fb.Context)
		} else {
			if len(raw) > maxContextChars {
				raw = append(raw[:maxContextChars], []byte("\n... (truncated)")...)
			}
			b.Write(raw)
			b.WriteString("\n")
		}
	}

	return b.String()
}
