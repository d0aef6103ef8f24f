package session

import (
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/research"
)

// ResearchMode trades research speed against depth.
type ResearchMode string

const (
	Fast     ResearchMode = "Fast"
	Standard ResearchMode = "Standard"
	Deep     ResearchMode = "Deep"
)

// Deep mode bounds.
const (
	MinDepth     = 1
	MaxDepth     = 5
	MinTimeLimit = 1 * time.Minute
	MaxTimeLimit = 10 * time.Minute
	MinURLs      = 5
	MaxURLs      = 20
)

var modeParams = map[ResearchMode]research.Params{
	Fast:     {MaxDepth: 1, TimeLimitSeconds: 60, MaxURLs: 5, Mode: string(Fast)},
	Standard: {MaxDepth: 2, TimeLimitSeconds: 120, MaxURLs: 8, Mode: string(Standard)},
	Deep:     {MaxDepth: 3, TimeLimitSeconds: 240, MaxURLs: 12, Mode: string(Deep)},
}

// ParseResearchMode accepts "fast", "Standard", "Deep Research (4-6 min)" and
// similar labels.
func ParseResearchMode(s string) (ResearchMode, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, m := range []ResearchMode{Fast, Standard, Deep} {
		if strings.HasPrefix(lower, strings.ToLower(string(m))) {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid research mode: %q", s)
}

// EstimatedTime is the expected wall-clock range shown before a run.
func (m ResearchMode) EstimatedTime() string {
	switch m {
	case Fast:
		return "1-2 minutes"
	case Deep:
		return "4-6 minutes"
	default:
		return "2-4 minutes"
	}
}

// Description is the one-line summary of the mode.
func (m ResearchMode) Description() string {
	switch m {
	case Fast:
		return "Fast mode: Shallow research, fewer sources, quick results"
	case Deep:
		return "Deep mode: Adjustable depth, time and sources for comprehensive analysis"
	default:
		return "Standard mode: Balanced depth and speed"
	}
}

// Credentials are held in memory only.
type Credentials struct {
	OpenAI    string
	Groq      string
	Gemini    string
	Firecrawl string
}

// ForProvider returns the LLM credential the provider needs.
func (c Credentials) ForProvider(p clients.Provider) string {
	switch p {
	case clients.OpenAI:
		return c.OpenAI
	case clients.Groq:
		return c.Groq
	case clients.Gemini:
		return c.Gemini
	}
	return ""
}

// CredentialName names a settable credential.
type CredentialName string

const (
	CredentialOpenAI    CredentialName = "openai"
	CredentialGroq      CredentialName = "groq"
	CredentialGemini    CredentialName = "gemini"
	CredentialFirecrawl CredentialName = "firecrawl"
)

// Configuration is the per-session configuration store.
type Configuration struct {
	Provider    clients.Provider
	Models      map[clients.Provider]string
	Credentials Credentials
	Debug       bool

	mode   ResearchMode
	params research.Params
}

// NewConfiguration starts in Standard mode with the OpenAI provider.
func NewConfiguration() *Configuration {
	return &Configuration{
		Provider: clients.OpenAI,
		Models:   map[clients.Provider]string{},
		mode:     Standard,
		params:   modeParams[Standard],
	}
}

// Clone returns an independent copy.
func (c *Configuration) Clone() *Configuration {
	next := *c
	next.Models = maps.Clone(c.Models)
	if next.Models == nil {
		next.Models = map[clients.Provider]string{}
	}
	return &next
}

func (c *Configuration) SetProvider(p clients.Provider) error {
	if _, err := clients.ParseProvider(string(p)); err != nil {
		return err
	}
	c.Provider = p
	return nil
}

// SetCredential stores a key. Empty keys are ignored, matching a cleared
// input that keeps the previous value.
func (c *Configuration) SetCredential(name CredentialName, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	switch name {
	case CredentialOpenAI:
		c.Credentials.OpenAI = key
	case CredentialGroq:
		c.Credentials.Groq = key
	case CredentialGemini:
		c.Credentials.Gemini = key
	case CredentialFirecrawl:
		c.Credentials.Firecrawl = key
	default:
		return fmt.Errorf("unknown credential: %q", name)
	}
	return nil
}

// ClearCredential removes a stored key.
func (c *Configuration) ClearCredential(name CredentialName) error {
	switch name {
	case CredentialOpenAI:
		c.Credentials.OpenAI = ""
	case CredentialGroq:
		c.Credentials.Groq = ""
	case CredentialGemini:
		c.Credentials.Gemini = ""
	case CredentialFirecrawl:
		c.Credentials.Firecrawl = ""
	default:
		return fmt.Errorf("unknown credential: %q", name)
	}
	return nil
}

// SetResearchMode switches mode. Fast and Standard use fixed parameters;
// switching to Deep starts from the deep defaults.
func (c *Configuration) SetResearchMode(mode ResearchMode) error {
	params, ok := modeParams[mode]
	if !ok {
		return fmt.Errorf("invalid research mode: %q", mode)
	}
	if mode == c.mode && mode == Deep {
		return nil
	}
	c.mode = mode
	c.params = params
	return nil
}

func (c *Configuration) Mode() ResearchMode {
	return c.mode
}

// SetDeepParams adjusts the parameters. Only valid in Deep mode.
func (c *Configuration) SetDeepParams(depth int, timeLimit time.Duration, urls int) error {
	if c.mode != Deep {
		return &InvalidStateError{Op: "SetDeepParams", Mode: c.mode}
	}
	if depth < MinDepth || depth > MaxDepth {
		return fmt.Errorf("%w: depth %d not in [%d, %d]", ErrOutOfRange, depth, MinDepth, MaxDepth)
	}
	if timeLimit < MinTimeLimit || timeLimit > MaxTimeLimit {
		return fmt.Errorf("%w: time limit %s not in [%s, %s]", ErrOutOfRange, timeLimit, MinTimeLimit, MaxTimeLimit)
	}
	if urls < MinURLs || urls > MaxURLs {
		return fmt.Errorf("%w: max urls %d not in [%d, %d]", ErrOutOfRange, urls, MinURLs, MaxURLs)
	}
	c.params = research.Params{
		MaxDepth:         depth,
		TimeLimitSeconds: int(timeLimit / time.Second),
		MaxURLs:          urls,
		Mode:             string(Deep),
	}
	return nil
}

func (c *Configuration) SetDebug(debug bool) {
	c.Debug = debug
}

// CurrentParams returns the parameters a submission would use now.
func (c *Configuration) CurrentParams() research.Params {
	return c.params
}

// LLMSettings resolves the provider, model and key for the agents.
func (c *Configuration) LLMSettings() clients.Settings {
	return clients.Settings{
		Provider: c.Provider,
		Model:    c.Models[c.Provider],
		APIKey:   c.Credentials.ForProvider(c.Provider),
	}
}

// Validate reports a missing credential for the selected provider.
func (c *Configuration) Validate() error {
	if c.Credentials.ForProvider(c.Provider) == "" {
		return &ConfigurationError{
			Field:   string(c.Provider),
			Message: fmt.Sprintf("Please enter your %s API key.", c.Provider),
		}
	}
	return nil
}

// Snapshot freezes the topic and current parameters into a query.
func (c *Configuration) Snapshot(topic string) (research.Query, error) {
	if err := c.Validate(); err != nil {
		return research.Query{}, err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return research.Query{}, &ConfigurationError{Field: "topic", Message: "Please enter a research topic."}
	}
	return research.Query{Topic: topic, Params: c.params}, nil
}

// LogValue keeps credentials out of logs.
func (c *Configuration) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", string(c.Provider)),
		slog.String("mode", string(c.mode)),
		slog.Int("max_depth", c.params.MaxDepth),
		slog.Int("time_limit", c.params.TimeLimitSeconds),
		slog.Int("max_urls", c.params.MaxURLs),
		slog.Bool("debug", c.Debug),
		slog.Bool("openai_key_set", c.Credentials.OpenAI != ""),
		slog.Bool("groq_key_set", c.Credentials.Groq != ""),
		slog.Bool("gemini_key_set", c.Credentials.Gemini != ""),
		slog.Bool("firecrawl_key_set", c.Credentials.Firecrawl != ""),
	)
}
