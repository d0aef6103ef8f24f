package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/clients"
)

// DefaultOrchestrators picks langchaingo for the OpenAI-compatible providers
// and ADK for Gemini.
type DefaultOrchestrators struct {
	Logger *slog.Logger
}

func (f DefaultOrchestrators) Orchestrator(ctx context.Context, s clients.Settings) (Orchestrator, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if s.Provider == clients.Gemini {
		m, err := clients.GeminiModel(ctx, s)
		if err != nil {
			return nil, err
		}
		o := NewADKOrchestrator(m)
		o.Logger = logger
		return o, nil
	}

	llm, err := clients.ChatModel(s)
	if err != nil {
		return nil, err
	}
	if s.Provider == clients.Groq {
		if err := clients.CheckConnection(ctx, llm); err != nil {
			return nil, fmt.Errorf("groq connection test failed: %w", err)
		}
		logger.Info("Groq API connection successful", "model", s.ModelName())
	}
	o := NewLangChainOrchestrator(llm)
	o.Logger = logger
	return o, nil
}
