package gemini

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal/llm"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

var (
	ErrProhibitedContent = goerr.New("prohibited content")

	// geminiPromptScope is the logging scope for Gemini prompts
	geminiPromptScope = ctxlog.NewScope("gemini_prompt", ctxlog.EnabledBy("TRIBUNAL_LOGGING_GEMINI_PROMPT"))

	// geminiResponseScope is the logging scope for Gemini responses
	geminiResponseScope = ctxlog.NewScope("gemini_response", ctxlog.EnabledBy("TRIBUNAL_LOGGING_GEMINI_RESPONSE"))
)

// Client is a llm.Completer backed by Gemini on Vertex AI.
type Client struct {
	apiClient apiClient

	// defaultModel is the model to use for completions.
	// It can be overridden using WithModel option.
	defaultModel string

	// generationConfig contains the default generation parameters
	generationConfig genai.GenerateContentConfig
}

// Option is a configuration option for the Gemini client.
type Option func(*Client)

// WithModel sets the model to use for text generation.
// Default: "gemini-2.5-flash"
func WithModel(model string) Option {
	return func(c *Client) {
		c.defaultModel = model
	}
}

// WithTemperature sets the temperature parameter for text generation.
// Range: 0.0 to 2.0
func WithTemperature(temp float32) Option {
	return func(c *Client) {
		c.generationConfig.Temperature = &temp
	}
}

// WithMaxTokens sets the maximum number of output tokens.
func WithMaxTokens(maxTokens int32) Option {
	return func(c *Client) {
		c.generationConfig.MaxOutputTokens = maxTokens
	}
}

func newClient(options ...Option) *Client {
	var budget int32 = 0
	client := &Client{
		defaultModel: DefaultModel,
		generationConfig: genai.GenerateContentConfig{
			ThinkingConfig: &genai.ThinkingConfig{
				ThinkingBudget: &budget,
			},
		},
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// New creates a new client for Gemini on Vertex AI.
func New(ctx context.Context, projectID, location string, options ...Option) (*Client, error) {
	if projectID == "" {
		return nil, goerr.New("projectID is required")
	}
	if location == "" {
		return nil, goerr.New("location is required")
	}

	client := newClient(options...)

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client", goerr.V("project", projectID), goerr.V("location", location))
	}

	client.apiClient = &realAPIClient{client: genaiClient}
	return client, nil
}

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	config := c.generationConfig
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	} else {
		config.ResponseMIMEType = "text/plain"
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Role:  "system",
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}},
	}

	promptLogger := ctxlog.From(ctx, geminiPromptScope)
	if promptLogger.Enabled(ctx, slog.LevelInfo) {
		promptLogger.Info("Gemini prompt", "system_prompt", req.System, "prompt", req.Prompt)
	}

	resp, err := c.apiClient.GenerateContent(ctx, c.defaultModel, contents, &config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", c.defaultModel))
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}

	responseLogger := ctxlog.From(ctx, geminiResponseScope)
	if responseLogger.Enabled(ctx, slog.LevelInfo) {
		responseLogger.Info("Gemini response", "text", text)
	}

	if text == "" {
		return "", goerr.Wrap(llm.ErrEmptyResponse, "no text in Gemini response", goerr.V("model", c.defaultModel))
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", nil
	}

	var texts []string
	for _, candidate := range resp.Candidates {
		if strings.Contains(string(candidate.FinishReason), "PROHIBITED_CONTENT") {
			return "", goerr.Wrap(ErrProhibitedContent, "candidate blocked")
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
	}
	return strings.Join(texts, ""), nil
}
