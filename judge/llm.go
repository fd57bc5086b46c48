package judge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/llm"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrMalformedVerdict = goerr.New("malformed verdict")

const verdictSchemaURL = "https://tribunal.local/schema/verdict.json"

const verdictSchema = `{
  "type": "object",
  "required": ["action", "confidence", "reasoning"],
  "properties": {
    "action": {"enum": ["ACCEPT", "RETRY", "REPLAN", "ESCALATE"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"}
  }
}`

// LLM is a tribunal.ModelJudge backed by a text completion model.
type LLM struct {
	completer    llm.Completer
	systemPrompt string
	schema       *jsonschema.Schema
}

// LLMOption configures LLM.
type LLMOption func(*LLM)

// WithSystemPrompt replaces the default judge system prompt.
func WithSystemPrompt(prompt string) LLMOption {
	return func(l *LLM) {
		l.systemPrompt = prompt
	}
}

// NewLLM creates a model judge on top of completer.
func NewLLM(completer llm.Completer, opts ...LLMOption) (*LLM, error) {
	schema, err := compileVerdictSchema()
	if err != nil {
		return nil, err
	}

	l := &LLM{
		completer:    completer,
		systemPrompt: defaultSystemPrompt,
		schema:       schema,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Judge implements tribunal.ModelJudge.
func (l *LLM) Judge(ctx context.Context, req tribunal.JudgeRequest) (*tribunal.Verdict, error) {
	text, err := l.completer.Complete(ctx, llm.Request{
		System: l.systemPrompt,
		Prompt: buildJudgePrompt(req),
		JSON:   true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "judge completion failed", goerr.V("goal_id", req.Goal.ID))
	}

	verdict, err := l.parseVerdict(text)
	if err != nil {
		ctxlog.From(ctx).Warn("unparseable judge response", "goal_id", req.Goal.ID, "error", err)
		return nil, err
	}
	return verdict, nil
}

func (l *LLM) parseVerdict(text string) (*tribunal.Verdict, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, goerr.Wrap(ErrMalformedVerdict, "no JSON in judge response", goerr.V("error", err.Error()))
	}

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, goerr.Wrap(ErrMalformedVerdict, "failed to decode verdict", goerr.V("error", err.Error()))
	}
	if obj, ok := inst.(map[string]any); ok {
		if action, ok := obj["action"].(string); ok {
			obj["action"] = strings.ToUpper(strings.TrimSpace(action))
		}
	}
	if err := l.schema.Validate(inst); err != nil {
		return nil, goerr.Wrap(ErrMalformedVerdict, "verdict does not match schema", goerr.V("error", err.Error()), goerr.V("verdict", raw))
	}

	var verdict tribunal.Verdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, goerr.Wrap(ErrMalformedVerdict, "failed to unmarshal verdict", goerr.V("error", err.Error()))
	}
	return &verdict, nil
}

func compileVerdictSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(verdictSchema))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode verdict schema")
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(verdictSchemaURL, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to add verdict schema")
	}
	schema, err := c.Compile(verdictSchemaURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile verdict schema")
	}
	return schema, nil
}
