package clients

import (
	"fmt"
	"strings"
)

// Provider is an LLM provider selectable per session.
type Provider string

const (
	OpenAI Provider = "OpenAI"
	Groq   Provider = "Groq"
	Gemini Provider = "Gemini"
)

// Default models per provider.
const (
	DefaultOpenAIModel = "gpt-4"
	DefaultGroqModel   = "llama3-8b-8192"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Temperature used for every agent call.
const Temperature = 0.1

// Providers lists the supported providers in display order.
var Providers = []Provider{OpenAI, Groq, Gemini}

// ParseProvider accepts a provider name case-insensitively.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid provider: %q", s)
}

// Settings selects a provider, its model and the credential to use.
type Settings struct {
	Provider Provider
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint, mostly for tests.
	BaseURL string
}

// ModelName returns the configured model or the provider default.
func (s Settings) ModelName() string {
	if s.Model != "" {
		return s.Model
	}
	switch s.Provider {
	case Groq:
		return DefaultGroqModel
	case Gemini:
		return DefaultGeminiModel
	default:
		return DefaultOpenAIModel
	}
}
