package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/session"
)

// Config holds process-wide defaults read from the environment. They only
// seed new sessions; a session's own settings take precedence.
type Config struct {
	OpenAIApiKey    string
	GroqApiKey      string
	GoogleApiKey    string
	FirecrawlApiKey string

	Provider     string
	ResearchMode string
	Debug        bool

	OpenAIModel string
	GroqModel   string
	GeminiModel string

	// Deep mode overrides, applied only when ResearchMode is Deep.
	DeepMaxDepth  int
	DeepTimeLimit time.Duration
	DeepMaxURLs   int

	FirecrawlBaseURL string
	DatabaseURL      string
	Port             string
}

func Load() *Config {
	return &Config{
		OpenAIApiKey:     getEnv("OPENAI_API_KEY", ""),
		GroqApiKey:       getEnv("GROQ_API_KEY", ""),
		GoogleApiKey:     getEnv("GOOGLE_API_KEY", ""),
		FirecrawlApiKey:  getEnv("FIRECRAWL_API_KEY", ""),
		Provider:         getEnv("AI_PROVIDER", string(clients.OpenAI)),
		ResearchMode:     getEnv("RESEARCH_MODE", string(session.Standard)),
		Debug:            getEnvAsBool("DEBUG", false),
		OpenAIModel:      getEnv("OPENAI_MODEL", clients.DefaultOpenAIModel),
		GroqModel:        getEnv("GROQ_MODEL", clients.DefaultGroqModel),
		GeminiModel:      getEnv("GEMINI_MODEL", clients.DefaultGeminiModel),
		DeepMaxDepth:     getEnvAsInt("DEEP_MAX_DEPTH", 0),
		DeepTimeLimit:    time.Duration(getEnvAsInt("DEEP_TIME_LIMIT_MINUTES", 0)) * time.Minute,
		DeepMaxURLs:      getEnvAsInt("DEEP_MAX_URLS", 0),
		FirecrawlBaseURL: getEnv("FIRECRAWL_BASE_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		Port:             getEnv("PORT", "8081"),
	}
}

// Apply seeds a session configuration with these defaults.
func (c *Config) Apply(sc *session.Configuration) error {
	provider, err := clients.ParseProvider(c.Provider)
	if err != nil {
		return err
	}
	if err := sc.SetProvider(provider); err != nil {
		return err
	}

	credentials := map[session.CredentialName]string{
		session.CredentialOpenAI:    c.OpenAIApiKey,
		session.CredentialGroq:      c.GroqApiKey,
		session.CredentialGemini:    c.GoogleApiKey,
		session.CredentialFirecrawl: c.FirecrawlApiKey,
	}
	for name, key := range credentials {
		if err := sc.SetCredential(name, key); err != nil {
			return err
		}
	}

	sc.Models[clients.OpenAI] = c.OpenAIModel
	sc.Models[clients.Groq] = c.GroqModel
	sc.Models[clients.Gemini] = c.GeminiModel
	sc.SetDebug(c.Debug)

	mode, err := session.ParseResearchMode(c.ResearchMode)
	if err != nil {
		return err
	}
	if err := sc.SetResearchMode(mode); err != nil {
		return err
	}

	if mode == session.Deep && (c.DeepMaxDepth != 0 || c.DeepTimeLimit != 0 || c.DeepMaxURLs != 0) {
		current := sc.CurrentParams()
		depth, limit, urls := current.MaxDepth, time.Duration(current.TimeLimitSeconds)*time.Second, current.MaxURLs
		if c.DeepMaxDepth != 0 {
			depth = c.DeepMaxDepth
		}
		if c.DeepTimeLimit != 0 {
			limit = c.DeepTimeLimit
		}
		if c.DeepMaxURLs != 0 {
			urls = c.DeepMaxURLs
		}
		if err := sc.SetDeepParams(depth, limit, urls); err != nil {
			return fmt.Errorf("invalid deep research defaults: %w", err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
