package clients

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type stubModel struct {
	content string
	err     error
}

func (m stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input   string
		want    Provider
		wantErr bool
	}{
		{"OpenAI", OpenAI, false},
		{"groq", Groq, false},
		{" GEMINI ", Gemini, false},
		{"anthropic", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProvider(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSettings_ModelName(t *testing.T) {
	assert.Equal(t, DefaultOpenAIModel, Settings{Provider: OpenAI}.ModelName())
	assert.Equal(t, DefaultGroqModel, Settings{Provider: Groq}.ModelName())
	assert.Equal(t, DefaultGeminiModel, Settings{Provider: Gemini}.ModelName())
	assert.Equal(t, "gpt-4o", Settings{Provider: OpenAI, Model: "gpt-4o"}.ModelName())
}

func TestChatModel(t *testing.T) {
	_, err := ChatModel(Settings{Provider: OpenAI})
	assert.ErrorContains(t, err, "API key is not set")

	_, err = ChatModel(Settings{Provider: Gemini, APIKey: "k"})
	assert.ErrorContains(t, err, "not OpenAI-compatible")

	llm, err := ChatModel(Settings{Provider: Groq, APIKey: "gsk-test"})
	require.NoError(t, err)
	assert.NotNil(t, llm)
}

func TestCheckConnection(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, CheckConnection(ctx, stubModel{content: "Connection successful"}))
	assert.ErrorContains(t, CheckConnection(ctx, stubModel{}), "empty response")
	assert.ErrorContains(t, CheckConnection(ctx, stubModel{err: errors.New("401 unauthorized")}), "401 unauthorized")
}
