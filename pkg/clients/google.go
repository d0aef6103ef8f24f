package clients

import (
	"context"
	"fmt"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// GeminiModel creates an ADK model backed by the Gemini API.
func GeminiModel(ctx context.Context, s Settings) (model.LLM, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("%s API key is not set", Gemini)
	}

	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := gemini.NewModel(ctx, s.ModelName(), &genai.ClientConfig{
		APIKey:  s.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model: %w", err)
	}
	return llm, nil
}
