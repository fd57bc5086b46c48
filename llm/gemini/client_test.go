package gemini_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal/llm"
	"github.com/m-mizutani/tribunal/llm/gemini"
	"google.golang.org/genai"
)

type mockAPIClient struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (m *mockAPIClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.model = model
	m.contents = contents
	m.config = config
	return m.resp, m.err
}

func textResponse(texts ...string) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, len(texts))
	for i, s := range texts {
		parts[i] = &genai.Part{Text: s}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
	}
}

func TestComplete(t *testing.T) {
	mock := &mockAPIClient{resp: textResponse(`{"action":`, `"RETRY"}`)}
	client := gemini.NewWithAPIClient(mock, gemini.WithModel("gemini-test"))

	text, err := client.Complete(context.Background(), llm.Request{System: "judge", Prompt: "evaluate", JSON: true})
	gt.NoError(t, err)
	gt.Equal(t, text, `{"action":"RETRY"}`)

	gt.Equal(t, mock.model, "gemini-test")
	gt.Equal(t, mock.config.ResponseMIMEType, "application/json")
	gt.NotNil(t, mock.config.SystemInstruction)
	gt.Equal(t, mock.config.SystemInstruction.Parts[0].Text, "judge")
	gt.A(t, mock.contents).Length(1)
}

func TestCompleteErrors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		client := gemini.NewWithAPIClient(&mockAPIClient{err: errors.New("quota")})
		_, err := client.Complete(context.Background(), llm.Request{Prompt: "hi"})
		gt.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		client := gemini.NewWithAPIClient(&mockAPIClient{resp: &genai.GenerateContentResponse{}})
		_, err := client.Complete(context.Background(), llm.Request{Prompt: "hi"})
		gt.True(t, errors.Is(err, llm.ErrEmptyResponse))
	})

	t.Run("blocked", func(t *testing.T) {
		client := gemini.NewWithAPIClient(&mockAPIClient{resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReason("PROHIBITED_CONTENT")}},
		}})
		_, err := client.Complete(context.Background(), llm.Request{Prompt: "hi"})
		gt.True(t, errors.Is(err, gemini.ErrProhibitedContent))
	})
}

func TestGeminiComplete(t *testing.T) {
	projectID, ok := os.LookupEnv("TEST_GCP_PROJECT_ID")
	if !ok {
		t.Skip("TEST_GCP_PROJECT_ID is not set")
	}
	location, ok := os.LookupEnv("TEST_GCP_LOCATION")
	if !ok {
		t.Skip("TEST_GCP_LOCATION is not set")
	}

	ctx := context.Background()
	client, err := gemini.New(ctx, projectID, location)
	gt.NoError(t, err).Required()

	text, err := client.Complete(ctx, llm.Request{Prompt: "Say hello in one word"})
	gt.NoError(t, err)
	gt.Value(t, len(text)).NotEqual(0)
}
