package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
)

const (
	DefaultFirecrawlBaseURL = "https://api.firecrawl.dev"
	defaultPollInterval     = 2 * time.Second
	maxListedSources        = 5
	maxDescriptionLength    = 100
)

// MalformedResponseError is returned when the hosted service answers with a
// payload that lacks a required key.
type MalformedResponseError struct {
	Field string
	Body  string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed deep research response: missing %s", e.Field)
}

// DeepResearchActivity is one step reported by the hosted service.
type DeepResearchActivity struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Depth     int    `json:"depth"`
}

// DeepResearchSource is a page the hosted service analyzed.
type DeepResearchSource struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// DeepResearchData is the payload of a completed job.
type DeepResearchData struct {
	FinalAnalysis *string                `json:"finalAnalysis"`
	Sources       []DeepResearchSource   `json:"sources"`
	Activities    []DeepResearchActivity `json:"activities"`
}

// DeepResearchResult mirrors the service's {success, data} envelope.
type DeepResearchResult struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Data    *DeepResearchData `json:"data,omitempty"`
}

type deepResearchRequest struct {
	Query     string `json:"query"`
	MaxDepth  int    `json:"maxDepth"`
	TimeLimit int    `json:"timeLimit"`
	MaxURLs   int    `json:"maxUrls"`
}

type startResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type statusResponse struct {
	Success    bool                   `json:"success"`
	Status     string                 `json:"status"`
	Error      string                 `json:"error"`
	Data       *DeepResearchData      `json:"data"`
	Activities []DeepResearchActivity `json:"activities"`
}

// FirecrawlClient runs hosted deep research jobs.
type FirecrawlClient struct {
	APIKey       string
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Debug        bool
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// NewFirecrawlClient creates a client against the public API.
func NewFirecrawlClient(apiKey string) *FirecrawlClient {
	return &FirecrawlClient{
		APIKey:       apiKey,
		BaseURL:      DefaultFirecrawlBaseURL,
		HTTPClient:   &http.Client{},
		PollInterval: defaultPollInterval,
		Logger:       slog.Default(),
	}
}

// Run submits one job, streams its activities to observer and formats the
// outcome. It never returns an error: every failure is described in the
// returned fragment.
func (c *FirecrawlClient) Run(ctx context.Context, query string, params research.Params, observer research.ProgressObserver) research.ReportFragment {
	result, err := c.DeepResearch(ctx, query, params, observer)
	if err != nil {
		c.logger().Error("Deep research failed", "query", query, "error", err)
		return firecrawlErrorFragment(query, err)
	}
	if !result.Success || result.Data == nil {
		c.logger().Warn("Deep research returned no data", "query", query, "error", result.Error)
		return noDataFragment(query)
	}
	return formatDeepResearch(query, params, result.Data)
}

// DeepResearch submits the job and polls its status until it completes or
// fails. Activities are delivered to observer in order, inline.
func (c *FirecrawlClient) DeepResearch(ctx context.Context, query string, params research.Params, observer research.ProgressObserver) (*DeepResearchResult, error) {
	start, err := c.start(ctx, deepResearchRequest{
		Query:     query,
		MaxDepth:  params.MaxDepth,
		TimeLimit: params.TimeLimitSeconds,
		MaxURLs:   params.MaxURLs,
	})
	if err != nil {
		return nil, err
	}
	if !start.Success || start.ID == "" {
		return &DeepResearchResult{Success: false, Error: start.Error}, nil
	}

	c.logger().Info("Deep research job started", "id", start.ID)
	tracker := newProgressTracker(observer, c.Metrics)
	if c.Debug {
		tracker.echo = c.logger()
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	delivered := 0
	for {
		status, err := c.status(ctx, start.ID)
		if err != nil {
			return nil, err
		}

		activities := status.Activities
		if status.Data != nil && len(status.Data.Activities) > len(activities) {
			activities = status.Data.Activities
		}
		for _, a := range activities[min(delivered, len(activities)):] {
			tracker.handle(a)
		}
		delivered = max(delivered, len(activities))

		switch status.Status {
		case "completed":
			if status.Data != nil && status.Data.FinalAnalysis == nil {
				return nil, &MalformedResponseError{Field: "data.finalAnalysis"}
			}
			return &DeepResearchResult{Success: status.Success, Data: status.Data}, nil
		case "failed":
			return nil, fmt.Errorf("deep research job %s failed: %s", start.ID, status.Error)
		case "processing":
		default:
			return &DeepResearchResult{Success: false, Error: "deep research job terminated unexpectedly"}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *FirecrawlClient) start(ctx context.Context, payload deepResearchRequest) (*startResponse, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/v1/deep-research", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp startResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal start response: %w", err)
	}
	return &resp, nil
}

func (c *FirecrawlClient) status(ctx context.Context, id string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/v1/deep-research/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status response: %w", err)
	}
	if resp.Status == "" {
		return nil, &MalformedResponseError{Field: "status", Body: string(body)}
	}
	return &resp, nil
}

func (c *FirecrawlClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if c.Debug {
		c.logger().Info("Deep research API response", "url", req.URL.String(), "status", resp.StatusCode, "body", string(body))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}
	return body, nil
}

func (c *FirecrawlClient) baseURL() string {
	if c.BaseURL == "" {
		return DefaultFirecrawlBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *FirecrawlClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// progressTracker maps activity types onto fixed checkpoints.
type progressTracker struct {
	observer research.ProgressObserver
	metrics  *metrics.Metrics
	echo     *slog.Logger
	percent  int
}

func newProgressTracker(observer research.ProgressObserver, m *metrics.Metrics) *progressTracker {
	return &progressTracker{observer: observer, metrics: m}
}

// ProgressFor returns the checkpoint for an activity type and whether the type
// matched one of them.
func ProgressFor(activityType string) (int, bool) {
	t := strings.ToLower(activityType)
	switch {
	case strings.Contains(t, "searching"):
		return 25, true
	case strings.Contains(t, "analyzing"):
		return 50, true
	case strings.Contains(t, "synthesizing"):
		return 75, true
	case strings.Contains(t, "complete"):
		return 100, true
	}
	return 0, false
}

func (p *progressTracker) handle(a DeepResearchActivity) {
	activityType := a.Type
	if activityType == "" {
		activityType = "info"
	}
	message := a.Message
	if message == "" {
		message = "Processing..."
	}

	if percent, ok := ProgressFor(activityType); ok {
		p.percent = percent
	}
	p.metrics.ObserveActivity(activityType)
	if p.echo != nil {
		p.echo.Info("Deep research activity", "type", activityType, "message", message)
	}
	if p.observer != nil {
		p.observer.OnProgress(p.percent, fmt.Sprintf("[%s] %s", strings.ToUpper(activityType), message))
	}
}

func formatDeepResearch(query string, params research.Params, data *DeepResearchData) research.ReportFragment {
	finalAnalysis := "No analysis available"
	if data.FinalAnalysis != nil {
		finalAnalysis = *data.FinalAnalysis
	}

	var sources []string
	for i, source := range data.Sources[:min(maxListedSources, len(data.Sources))] {
		title := orDefault(source.Title, "Untitled")
		url := orDefault(source.URL, "No URL")
		description := truncateRunes(orDefault(source.Description, "No description"), maxDescriptionLength)
		sources = append(sources, fmt.Sprintf("**%d. %s**\n   URL: %s\n   %s...", i+1, title, url, description))
	}
	sourcesInfo := "No sources available"
	if len(sources) > 0 {
		sourcesInfo = strings.Join(sources, "\n")
	}

	return fmt.Sprintf(`
# FIRECRAWL DEEP RESEARCH RESULTS FOR: %[1]s

## Research Parameters:
- **Query**: %[1]s
- **Max Depth**: %[2]d
- **Max URLs**: %[3]d
- **Time Limit**: %[4]d seconds

## Final Analysis:
%[5]s

## Key Sources Analyzed:
%[6]s

## Research Quality:
- ✅ Professional deep research
- ✅ %[7]d sources analyzed
- ✅ AI-powered content synthesis
- ✅ Real-time progress tracking
- ✅ High-quality content filtering

## Research Activities:
- %[8]d research steps completed
- Advanced web crawling and analysis
- Content synthesis and summarization

## Note:
This research was conducted using Firecrawl's advanced deep research technology.
`, query, params.MaxDepth, params.MaxURLs, params.TimeLimitSeconds, finalAnalysis, sourcesInfo, len(data.Sources), len(data.Activities))
}

func noDataFragment(query string) research.ReportFragment {
	return fmt.Sprintf(`
# FIRECRAWL RESEARCH COMPLETED

**Query**: %s

**Status**: Research completed but no data returned. This might be due to:
- Rate limiting
- Search engine blocking
- Network issues
- API configuration problems

**Recommendation**: Try again or use a different search query.
`, query)
}

func firecrawlErrorFragment(query string, err error) research.ReportFragment {
	return fmt.Sprintf(`
# FIRECRAWL RESEARCH ERROR

**Query**: %s
**Error**: %v

**Recommendation**: The hosted research service could not complete this request. Try again, or clear the Firecrawl key to use basic web research.
`, query, err)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// truncateRunes cuts s to at most n runes without splitting UTF-8 sequences.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
