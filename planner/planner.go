// Package planner implements tribunal.Planner on top of a text completion
// model. The model answers with {"steps": [...]} which is repaired, checked
// against a schema and turned into step specs.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/llm"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DefaultMaxSteps bounds the length of a revised plan.
const DefaultMaxSteps = 20

const planSchemaURL = "https://tribunal.local/schema/plan.json"

const planSchema = `{
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {
          "id": {"type": "string"},
          "description": {"type": "string", "minLength": 1},
          "tool": {"type": "string"},
          "args": {"type": "object"}
        }
      }
    }
  }
}`

// LLM is a tribunal.Planner backed by a text completion model.
type LLM struct {
	completer    llm.Completer
	systemPrompt string
	tools        []string
	maxSteps     int
	schema       *jsonschema.Schema
}

// Option configures LLM.
type Option func(*LLM)

// WithSystemPrompt replaces the default planner system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(l *LLM) {
		l.systemPrompt = prompt
	}
}

// WithTools lists the tool names the model may put in steps.
func WithTools(tools ...string) Option {
	return func(l *LLM) {
		l.tools = append(l.tools, tools...)
	}
}

// WithMaxSteps limits the number of steps a revised plan may have.
func WithMaxSteps(n int) Option {
	return func(l *LLM) {
		l.maxSteps = max(n, 1)
	}
}

// New creates a planner on top of completer.
func New(completer llm.Completer, opts ...Option) (*LLM, error) {
	schema, err := compilePlanSchema()
	if err != nil {
		return nil, err
	}

	l := &LLM{
		completer:    completer,
		systemPrompt: defaultSystemPrompt,
		maxSteps:     DefaultMaxSteps,
		schema:       schema,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Replan implements tribunal.Planner. Every failure wraps tribunal.ErrPlanning.
func (l *LLM) Replan(ctx context.Context, fb tribunal.Feedback) ([]tribunal.StepSpec, error) {
	text, err := l.completer.Complete(ctx, llm.Request{
		System: l.systemPrompt,
		Prompt: buildPlanPrompt(fb, l.tools),
		JSON:   true,
	})
	if err != nil {
		return nil, goerr.Wrap(tribunal.ErrPlanning, "planner completion failed",
			goerr.V("episode_id", fb.EpisodeID),
			goerr.V("error", err.Error()),
		)
	}

	steps, err := l.parsePlan(text)
	if err != nil {
		ctxlog.From(ctx).Warn("unusable plan from model", "episode_id", fb.EpisodeID, "error", err)
		return nil, err
	}

	ctxlog.From(ctx).Debug("model produced a revised plan", "episode_id", fb.EpisodeID, "steps", len(steps))
	return steps, nil
}

type planResponse struct {
	Steps []tribunal.StepSpec `json:"steps"`
}

func (l *LLM) parsePlan(text string) ([]tribunal.StepSpec, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, goerr.Wrap(tribunal.ErrPlanning, "no JSON in planner response", goerr.V("error", err.Error()))
	}

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, goerr.Wrap(tribunal.ErrPlanning, "failed to decode plan", goerr.V("error", err.Error()))
	}
	if err := l.schema.Validate(inst); err != nil {
		return nil, goerr.Wrap(tribunal.ErrPlanning, "plan does not match schema", goerr.V("error", err.Error()), goerr.V("plan", raw))
	}

	var resp planResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, goerr.Wrap(tribunal.ErrPlanning, "failed to unmarshal plan", goerr.V("error", err.Error()))
	}

	if len(resp.Steps) == 0 {
		return nil, goerr.Wrap(tribunal.ErrPlanning, "plan has no steps")
	}
	if len(resp.Steps) > l.maxSteps {
		return nil, goerr.Wrap(tribunal.ErrPlanning, "plan has too many steps",
			goerr.V("steps", len(resp.Steps)),
			goerr.V("max", l.maxSteps),
		)
	}

	seen := map[string]bool{}
	for i := range resp.Steps {
		s := &resp.Steps[i]
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i+1)
		}
		if seen[s.ID] {
			return nil, goerr.Wrap(tribunal.ErrPlanning, "duplicated step id", goerr.V("step_id", s.ID))
		}
		seen[s.ID] = true

		if s.Tool != "" && len(l.tools) > 0 && !l.knownTool(s.Tool) {
			return nil, goerr.Wrap(tribunal.ErrPlanning, "plan uses an unknown tool", goerr.V("step_id", s.ID), goerr.V("tool", s.Tool))
		}
	}
	return resp.Steps, nil
}

func (l *LLM) knownTool(name string) bool {
	for _, t := range l.tools {
		if t == name {
			return true
		}
	}
	return false
}

func compilePlanSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchema))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode plan schema")
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(planSchemaURL, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to add plan schema")
	}
	schema, err := c.Compile(planSchemaURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile plan schema")
	}
	return schema, nil
}
