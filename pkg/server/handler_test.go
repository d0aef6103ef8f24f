package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/assistant"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/pipeline"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/session"
)

type stubOrchestrator struct{}

func (stubOrchestrator) RunPipeline(ctx context.Context, researcher, writer pipeline.AgentSpec, tool pipeline.Tool) (string, error) {
	findings, err := tool.Call(ctx, pipeline.ToolArgs{})
	if err != nil {
		return "", err
	}
	return "# Executive Summary\n" + findings, nil
}

type failingOrchestrator struct{}

func (failingOrchestrator) RunPipeline(ctx context.Context, researcher, writer pipeline.AgentSpec, tool pipeline.Tool) (string, error) {
	return "", errors.New("rate limit exceeded")
}

type stubFallback struct{}

func (stubFallback) Run(ctx context.Context, query string) research.ReportFragment {
	return "# COMPREHENSIVE RESEARCH RESULTS FOR: " + query
}

type progressDeep struct{}

func (progressDeep) Run(ctx context.Context, query string, params research.Params, observer research.ProgressObserver) research.ReportFragment {
	observer.OnProgress(25, "[SEARCHING] "+query)
	observer.OnProgress(100, "[COMPLETE] done")
	return "# DEEP RESEARCH RESULTS FOR: " + query
}

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.New()
	a := assistant.New(assistant.WithMetrics(m))
	a.Orchestrators = pipeline.OrchestratorFactoryFunc(func(ctx context.Context, s clients.Settings) (pipeline.Orchestrator, error) {
		return stubOrchestrator{}, nil
	})
	a.Fallback = stubFallback{}

	svc := NewService(session.NewRegistry(nil), a, nil)
	r := gin.New()
	NewHandler(svc, m).RegisterRoutes(r)
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, r http.Handler, req ConfigRequest) SessionView {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/sessions", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var view SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func ptr[T any](v T) *T { return &v }

func TestCreateSession_RedactsCredentials(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/sessions", ConfigRequest{
		Provider:     ptr("openai"),
		Credentials:  map[string]string{"openai": "sk-secret"},
		ResearchMode: ptr("Fast"),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-secret")

	var view SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "OpenAI", view.Config.Provider)
	assert.Equal(t, "Fast", view.Config.ResearchMode)
	assert.Equal(t, "1-2 minutes", view.Config.EstimatedTime)
	assert.True(t, view.Config.CredentialsSet["openai"])
	assert.False(t, view.Config.CredentialsSet["firecrawl"])
}

func TestUpdateConfig(t *testing.T) {
	r, _ := newTestRouter(t)
	view := createSession(t, r, ConfigRequest{})
	path := "/api/sessions/" + view.ID.String() + "/config"

	t.Run("deep params outside deep mode", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPut, path, ConfigRequest{MaxDepth: ptr(4)})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "not allowed in Standard mode")
	})

	t.Run("deep mode with overrides", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPut, path, ConfigRequest{ResearchMode: ptr("Deep"), MaxDepth: ptr(5), TimeLimitMinutes: ptr(10)})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var cfg ConfigView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
		assert.Equal(t, research.Params{MaxDepth: 5, TimeLimitSeconds: 600, MaxURLs: 12, Mode: "Deep"}, cfg.Params)
	})

	t.Run("out of range", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPut, path, ConfigRequest{MaxURLs: ptr(21)})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid provider", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPut, path, ConfigRequest{Provider: ptr("anthropic")})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPut, "/api/sessions/00000000-0000-0000-0000-000000000001/config", ConfigRequest{})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/sessions/not-a-uuid/config", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestResearch_JSONHistoryAndExport(t *testing.T) {
	r, _ := newTestRouter(t)
	view := createSession(t, r, ConfigRequest{
		Credentials:  map[string]string{"openai": "sk-test"},
		ResearchMode: ptr("Fast"),
	})
	base := "/api/sessions/" + view.ID.String()

	w := doJSON(t, r, http.MethodPost, base+"/research", ResearchRequest{Topic: "quantum computing"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rec history.ResearchRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 1, rec.Metrics.MaxDepth)
	assert.Contains(t, rec.FinalReport, "COMPREHENSIVE RESEARCH RESULTS FOR: quantum computing")

	w = doJSON(t, r, http.MethodPost, base+"/research", ResearchRequest{Topic: "fusion"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []history.ResearchRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "fusion", records[0].Topic)

	w = doJSON(t, r, http.MethodGet, base+"/history/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"topic":"fusion"`)

	tests := []struct {
		format      string
		contentType string
		fileName    string
		contains    string
	}{
		{"md", "text/markdown", "quantum_computing_report.md", "# Executive Summary\n"},
		{"html", "text/html", "quantum_computing_report.html", "# Executive Summary<br>"},
		{"json", "application/json", "quantum_computing_report.json", `"template": "Custom"`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			w := doJSON(t, r, http.MethodGet, base+"/history/"+rec.ID.String()+"/export/"+tt.format, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), tt.contentType))
			assert.Contains(t, w.Header().Get("Content-Disposition"), tt.fileName)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}

	w = doJSON(t, r, http.MethodGet, base+"/history/"+rec.ID.String()+"/export/pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResearch_Stream(t *testing.T) {
	r, svc := newTestRouter(t)
	svc.Assistant.NewDeep = func(apiKey string, debug bool, logger *slog.Logger) research.DeepResearcher {
		return progressDeep{}
	}
	view := createSession(t, r, ConfigRequest{
		Credentials: map[string]string{"openai": "sk-test", "firecrawl": "fc-test"},
	})

	w := doJSON(t, r, http.MethodPost, "/api/sessions/"+view.ID.String()+"/research",
		ResearchRequest{Topic: "quantum computing"}, "Accept", "text/event-stream")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var events []StreamEvent
	for _, chunk := range strings.Split(strings.TrimSpace(w.Body.String()), "\n\n") {
		require.True(t, strings.HasPrefix(chunk, "data: "), chunk)
		var event StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &event))
		events = append(events, event)
	}

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"progress", "progress", "record", "done"}, types)
	assert.Equal(t, float64(25), events[0].Payload.(map[string]any)["percent"])
	assert.Contains(t, events[2].Payload.(map[string]any)["report"], "DEEP RESEARCH RESULTS")
}

func TestResearch_Errors(t *testing.T) {
	r, _ := newTestRouter(t)
	view := createSession(t, r, ConfigRequest{})
	path := "/api/sessions/" + view.ID.String() + "/research"

	w := doJSON(t, r, http.MethodPost, path, ResearchRequest{Topic: "quantum computing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please enter your OpenAI API key.")

	w = doJSON(t, r, http.MethodGet, "/api/sessions/"+view.ID.String()+"/history/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/sessions/"+view.ID.String()+"/archive", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestModesAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/modes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "4-6 minutes")

	view := createSession(t, r, ConfigRequest{Credentials: map[string]string{"openai": "sk-test"}})
	doJSON(t, r, http.MethodPost, "/api/sessions/"+view.ID.String()+"/research", ResearchRequest{Topic: "topic"})

	w = doJSON(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deep_research_runs_total")
}

func TestMCP(t *testing.T) {
	r, _ := newTestRouter(t)
	call := func(sessionID string, body map[string]any) *httptest.ResponseRecorder {
		headers := []string{}
		if sessionID != "" {
			headers = append(headers, "Mcp-Session-Id", sessionID)
		}
		return doJSON(t, r, http.MethodPost, "/mcp", body, headers...)
	}

	w := call("", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := w.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)

	w = call("", map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(sessionID, map[string]any{"jsonrpc": "2.0", "id": 3, "method": "tools/list"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"deep_research"`)

	// The MCP session starts without credentials.
	w = call(sessionID, map[string]any{"jsonrpc": "2.0", "id": 4, "method": "tools/call", "params": map[string]any{
		"name":      "deep_research",
		"arguments": map[string]any{"topic": "quantum computing", "research_mode": "Fast"},
	}})
	var resp MCPResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "API key")

	w = call(sessionID, map[string]any{"jsonrpc": "2.0", "id": 5, "method": "tools/call", "params": map[string]any{
		"name": "web_search",
	}})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestMCP_ToolsCallReturnsReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := assistant.New()
	a.Orchestrators = pipeline.OrchestratorFactoryFunc(func(ctx context.Context, s clients.Settings) (pipeline.Orchestrator, error) {
		return stubOrchestrator{}, nil
	})
	a.Fallback = stubFallback{}
	registry := session.NewRegistry(func(c *session.Configuration) {
		_ = c.SetCredential(session.CredentialOpenAI, "sk-test")
	})
	r := gin.New()
	NewHandler(NewService(registry, a, nil), nil).RegisterRoutes(r)

	w := doJSON(t, r, http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	sessionID := w.Header().Get("Mcp-Session-Id")

	w = doJSON(t, r, http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/call", "params": map[string]any{
		"name":      "deep_research",
		"arguments": map[string]any{"topic": "quantum computing", "research_mode": "Deep", "max_depth": 4},
	}}, "Mcp-Session-Id", sessionID)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *MCPError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.Len(t, resp.Result.Content, 1)
	assert.Contains(t, resp.Result.Content[0].Text, "COMPREHENSIVE RESEARCH RESULTS FOR: quantum computing")
}

func TestUpdateConfig_RejectedRequestChangesNothing(t *testing.T) {
	r, _ := newTestRouter(t)
	view := createSession(t, r, ConfigRequest{Credentials: map[string]string{"openai": "sk-test"}})
	path := "/api/sessions/" + view.ID.String() + "/config"

	w := doJSON(t, r, http.MethodPut, path, ConfigRequest{
		Provider:     ptr("Groq"),
		Model:        ptr("llama3-70b-8192"),
		Credentials:  map[string]string{"groq": "gsk-test"},
		ResearchMode: ptr("bogus"),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid research mode")

	w = doJSON(t, r, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cfg ConfigView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, "OpenAI", cfg.Provider)
	assert.Equal(t, "gpt-4", cfg.Model)
	assert.Equal(t, "Standard", cfg.ResearchMode)
	assert.False(t, cfg.CredentialsSet["groq"])
}

func TestUpdateConfig_ClearCredentials(t *testing.T) {
	r, _ := newTestRouter(t)
	view := createSession(t, r, ConfigRequest{Credentials: map[string]string{"openai": "sk-test", "firecrawl": "fc-test"}})
	path := "/api/sessions/" + view.ID.String() + "/config"

	w := doJSON(t, r, http.MethodPut, path, ConfigRequest{ClearCredentials: []string{"Firecrawl"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cfg ConfigView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.False(t, cfg.CredentialsSet["firecrawl"])
	assert.True(t, cfg.CredentialsSet["openai"])

	w = doJSON(t, r, http.MethodPut, path, ConfigRequest{ClearCredentials: []string{"mistral"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfig_ConcurrentReadsAndWrites(t *testing.T) {
	r, _ := newTestRouter(t)
	view := createSession(t, r, ConfigRequest{})
	path := "/api/sessions/" + view.ID.String() + "/config"

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			doJSON(t, r, http.MethodPut, path, ConfigRequest{Model: ptr("gpt-4o")})
		}()
		go func() {
			defer wg.Done()
			doJSON(t, r, http.MethodGet, path, nil)
		}()
		go func() {
			defer wg.Done()
			doJSON(t, r, http.MethodGet, "/api/sessions/"+view.ID.String(), nil)
		}()
	}
	wg.Wait()

	w := doJSON(t, r, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model":"gpt-4o"`)
}

func TestRunLogs_FollowRunID(t *testing.T) {
	r, svc := newTestRouter(t)
	sink := &memorySink{}
	svc.Logs = sink
	svc.Assistant.RunLogHandler = func(runID uuid.UUID) slog.Handler {
		return NewRunLogHandler(sink, runID)
	}
	view := createSession(t, r, ConfigRequest{Credentials: map[string]string{"openai": "sk-test"}, ResearchMode: ptr("Fast")})
	base := "/api/sessions/" + view.ID.String()

	fetchLogs := func(t *testing.T, runID uuid.UUID) []database.LogEntry {
		t.Helper()
		w := doJSON(t, r, http.MethodGet, "/api/runs/"+runID.String()+"/logs", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var logs []database.LogEntry
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
		return logs
	}
	messages := func(logs []database.LogEntry) []string {
		var out []string
		for _, l := range logs {
			out = append(out, l.Message)
		}
		return out
	}

	t.Run("completed run", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, base+"/research", ResearchRequest{Topic: "quantum computing"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var rec history.ResearchRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		require.NotEqual(t, uuid.Nil, rec.RunID)

		got := messages(fetchLogs(t, rec.RunID))
		assert.Contains(t, got, "Starting research")
		assert.Contains(t, got, "Research completed")
	})

	svc.Assistant.Orchestrators = pipeline.OrchestratorFactoryFunc(func(ctx context.Context, s clients.Settings) (pipeline.Orchestrator, error) {
		return failingOrchestrator{}, nil
	})

	t.Run("failed run json", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, base+"/research", ResearchRequest{Topic: "quantum computing"})
		require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
		var body ErrorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotNil(t, body.RunID)
		assert.Contains(t, body.Error, "rate limit exceeded")

		got := messages(fetchLogs(t, *body.RunID))
		assert.Contains(t, got, "Research failed")
		assert.NotContains(t, w.Body.String(), "sk-test")
	})

	t.Run("failed run stream", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, base+"/research", ResearchRequest{Topic: "quantum computing"}, "Accept", "text/event-stream")
		require.Equal(t, http.StatusOK, w.Code)

		chunks := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
		last := strings.TrimPrefix(chunks[len(chunks)-1], "data: ")
		var event struct {
			Type    string    `json:"type"`
			Payload ErrorBody `json:"payload"`
		}
		require.NoError(t, json.Unmarshal([]byte(last), &event))
		assert.Equal(t, "error", event.Type)
		require.NotNil(t, event.Payload.RunID)
		assert.Contains(t, messages(fetchLogs(t, *event.Payload.RunID)), "Research failed")
	})

	t.Run("unknown run", func(t *testing.T) {
		assert.Empty(t, fetchLogs(t, uuid.New()))
	})
}
