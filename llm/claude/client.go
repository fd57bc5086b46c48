package claude

import (
	"context"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal/llm"
)

const (
	DefaultModel       = "claude-sonnet-4-20250514"
	DefaultVertexModel = "claude-sonnet-4@20250514"
)

var (
	// claudePromptScope is the logging scope for Claude prompts
	claudePromptScope = ctxlog.NewScope("claude_prompt", ctxlog.EnabledBy("TRIBUNAL_LOGGING_CLAUDE_PROMPT"))

	// claudeResponseScope is the logging scope for Claude responses
	claudeResponseScope = ctxlog.NewScope("claude_response", ctxlog.EnabledBy("TRIBUNAL_LOGGING_CLAUDE_RESPONSE"))
)

type generationParameters struct {
	// Temperature controls randomness in the output.
	// Lower values make the output more focused and deterministic.
	Temperature float64

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int64
}

// Client is a llm.Completer backed by the Anthropic Messages API.
type Client struct {
	apiClient    apiClient
	defaultModel string
	params       generationParameters
}

// Option is a configuration option for the Claude client.
type Option func(*Client)

// WithModel sets the default model to use for text generation.
func WithModel(modelName string) Option {
	return func(c *Client) {
		c.defaultModel = modelName
	}
}

// WithTemperature sets the temperature parameter for text generation.
// Judges and planners usually want a low value.
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int64) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

func newClient(model string, options ...Option) *Client {
	client := &Client{
		defaultModel: model,
		params: generationParameters{
			Temperature: 0.0,
			MaxTokens:   2048,
		},
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// New creates a Claude client that authenticates with an API key.
func New(apiKey string, options ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("apiKey is required")
	}

	client := newClient(DefaultModel, options...)
	anthropicClient := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	client.apiClient = &realAPIClient{client: &anthropicClient}
	return client, nil
}

// NewWithVertex creates a Claude client served through Vertex AI.
func NewWithVertex(ctx context.Context, region, projectID string, options ...Option) (*Client, error) {
	if region == "" {
		return nil, goerr.New("region is required")
	}
	if projectID == "" {
		return nil, goerr.New("projectID is required")
	}

	client := newClient(DefaultVertexModel, options...)
	anthropicClient := anthropic.NewClient(
		option.WithAPIKey("dummy"), // Not used for Vertex AI
		vertex.WithGoogleAuth(ctx, region, projectID),
	)
	client.apiClient = &realAPIClient{client: &anthropicClient}
	return client, nil
}

// Complete implements llm.Completer. Claude has no JSON response mode, so
// req.JSON only adds an instruction to the system prompt.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.defaultModel),
		MaxTokens:   c.params.MaxTokens,
		Temperature: anthropic.Float(c.params.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	promptLogger := ctxlog.From(ctx, claudePromptScope)
	if promptLogger.Enabled(ctx, slog.LevelInfo) {
		promptLogger.Info("Claude prompt", "system_prompt", system, "prompt", req.Prompt)
	}

	resp, err := c.apiClient.MessagesNew(ctx, params)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create message", goerr.V("model", c.defaultModel))
	}

	text := responseText(resp)

	responseLogger := ctxlog.From(ctx, claudeResponseScope)
	if responseLogger.Enabled(ctx, slog.LevelInfo) {
		responseLogger.Info("Claude response",
			"text", text,
			"stop_reason", string(resp.StopReason),
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)
	}

	if text == "" {
		return "", goerr.Wrap(llm.ErrEmptyResponse, "no text block in Claude response", goerr.V("model", c.defaultModel))
	}
	return text, nil
}

func responseText(resp *anthropic.Message) string {
	if resp == nil {
		return ""
	}
	var texts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	return strings.Join(texts, "\n")
}
