package openai_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal/llm"
	"github.com/m-mizutani/tribunal/llm/openai"
	goopenai "github.com/sashabaranov/go-openai"
)

type mockAPIClient struct {
	req  goopenai.ChatCompletionRequest
	resp goopenai.ChatCompletionResponse
	err  error
}

func (m *mockAPIClient) CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	m.req = req
	return m.resp, m.err
}

func TestComplete(t *testing.T) {
	mock := &mockAPIClient{
		resp: goopenai.ChatCompletionResponse{
			Choices: []goopenai.ChatCompletionChoice{
				{Message: goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: `{"steps":[]}`}},
			},
		},
	}
	client := openai.NewWithAPIClient(mock, openai.WithModel("gpt-test"))

	text, err := client.Complete(context.Background(), llm.Request{System: "plan", Prompt: "replan please", JSON: true})
	gt.NoError(t, err)
	gt.Equal(t, text, `{"steps":[]}`)

	gt.Equal(t, mock.req.Model, "gpt-test")
	gt.A(t, mock.req.Messages).Length(2)
	gt.Equal(t, mock.req.Messages[0].Role, goopenai.ChatMessageRoleSystem)
	gt.NotNil(t, mock.req.ResponseFormat)
	gt.Equal(t, mock.req.ResponseFormat.Type, goopenai.ChatCompletionResponseFormatTypeJSONObject)
}

func TestCompleteErrors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		client := openai.NewWithAPIClient(&mockAPIClient{err: errors.New("rate limited")})
		_, err := client.Complete(context.Background(), llm.Request{Prompt: "hi"})
		gt.Error(t, err)
	})

	t.Run("no choices", func(t *testing.T) {
		client := openai.NewWithAPIClient(&mockAPIClient{})
		_, err := client.Complete(context.Background(), llm.Request{Prompt: "hi"})
		gt.True(t, errors.Is(err, llm.ErrEmptyResponse))
	})
}

func TestOpenAIComplete(t *testing.T) {
	apiKey, ok := os.LookupEnv("TEST_OPENAI_API_KEY")
	if !ok {
		t.Skip("TEST_OPENAI_API_KEY is not set")
	}

	client, err := openai.New(apiKey)
	gt.NoError(t, err).Required()

	text, err := client.Complete(context.Background(), llm.Request{Prompt: "Say hello in one word"})
	gt.NoError(t, err)
	gt.Value(t, len(text)).NotEqual(0)
}
