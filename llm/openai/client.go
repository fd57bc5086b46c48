package openai

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal/llm"
	"github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4.1"

var (
	// openaiPromptScope is the logging scope for OpenAI prompts
	openaiPromptScope = ctxlog.NewScope("openai_prompt", ctxlog.EnabledBy("TRIBUNAL_LOGGING_OPENAI_PROMPT"))

	// openaiResponseScope is the logging scope for OpenAI responses
	openaiResponseScope = ctxlog.NewScope("openai_response", ctxlog.EnabledBy("TRIBUNAL_LOGGING_OPENAI_RESPONSE"))
)

type generationParameters struct {
	// Temperature controls randomness in the output.
	Temperature float32

	// MaxTokens limits the number of tokens to generate. 0 leaves it to the API.
	MaxTokens int
}

// Client is a llm.Completer backed by the OpenAI chat completion API.
type Client struct {
	apiClient    apiClient
	defaultModel string
	baseURL      string
	params       generationParameters
}

// Option is a configuration option for the OpenAI client.
type Option func(*Client)

// WithModel sets the default model to use for chat completions.
func WithModel(modelName string) Option {
	return func(c *Client) {
		c.defaultModel = modelName
	}
}

// WithTemperature sets the temperature parameter for text generation.
func WithTemperature(temp float32) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible endpoints.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

func newClient(options ...Option) *Client {
	client := &Client{
		defaultModel: DefaultModel,
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// New creates a new OpenAI client.
func New(apiKey string, options ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("apiKey is required")
	}

	client := newClient(options...)

	config := openai.DefaultConfig(apiKey)
	if client.baseURL != "" {
		config.BaseURL = client.baseURL
	}
	client.apiClient = &realAPIClient{client: openai.NewClientWithConfig(config)}

	return client, nil
}

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.defaultModel,
		Messages:    messages,
		Temperature: c.params.Temperature,
		MaxTokens:   c.params.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	promptLogger := ctxlog.From(ctx, openaiPromptScope)
	if promptLogger.Enabled(ctx, slog.LevelInfo) {
		promptLogger.Info("OpenAI prompt", "model", c.defaultModel, "messages", messages)
	}

	resp, err := c.apiClient.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create chat completion", goerr.V("model", c.defaultModel))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", goerr.Wrap(llm.ErrEmptyResponse, "no content in OpenAI response", goerr.V("model", c.defaultModel))
	}
	text := resp.Choices[0].Message.Content

	responseLogger := ctxlog.From(ctx, openaiResponseScope)
	if responseLogger.Enabled(ctx, slog.LevelInfo) {
		responseLogger.Info("OpenAI response",
			"text", text,
			"finish_reason", string(resp.Choices[0].FinishReason),
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}

	return text, nil
}
