package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ChatModel creates a langchaingo model for the OpenAI-compatible providers.
// Groq is served through its OpenAI-compatible endpoint.
func ChatModel(s Settings) (llms.Model, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("%s API key is not set", s.Provider)
	}

	opts := []openai.Option{
		openai.WithToken(s.APIKey),
		openai.WithModel(s.ModelName()),
	}

	switch s.Provider {
	case OpenAI:
		if s.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(s.BaseURL))
		}
	case Groq:
		baseURL := GroqBaseURL
		if s.BaseURL != "" {
			baseURL = s.BaseURL
		}
		opts = append(opts, openai.WithBaseURL(baseURL))
	default:
		return nil, fmt.Errorf("provider %s is not OpenAI-compatible", s.Provider)
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", s.Provider, err)
	}
	return llm, nil
}

// CheckConnection sends a tiny prompt to verify the credential and endpoint
// before a long pipeline run.
func CheckConnection(ctx context.Context, llm llms.Model) error {
	resp, err := llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "Hello! Please respond with 'Connection successful'."),
	}, llms.WithMaxTokens(50))
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return fmt.Errorf("connection failed: empty response")
	}
	return nil
}
