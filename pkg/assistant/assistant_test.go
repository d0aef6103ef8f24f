package assistant

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/export"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/pipeline"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/session"
)

// toolCallingOrchestrator calls the research tool once and wraps its output
// the way a writer would.
type toolCallingOrchestrator struct {
	err      error
	settings clients.Settings
	block    chan struct{}
}

func (o *toolCallingOrchestrator) RunPipeline(ctx context.Context, researcher, writer pipeline.AgentSpec, tool pipeline.Tool) (string, error) {
	if o.block != nil {
		<-o.block
	}
	findings, err := tool.Call(ctx, pipeline.ToolArgs{Query: "quantum computing"})
	if err != nil {
		return "", err
	}
	if writer.OnStart != nil {
		writer.OnStart()
	}
	if o.err != nil {
		return "", o.err
	}
	return "# Executive Summary\n" + findings, nil
}

type fakeFallback struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeFallback) Run(ctx context.Context, query string) research.ReportFragment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return "# COMPREHENSIVE RESEARCH RESULTS FOR: " + query
}

type fakeDeep struct {
	params research.Params
}

func (f *fakeDeep) Run(ctx context.Context, query string, params research.Params, observer research.ProgressObserver) research.ReportFragment {
	f.params = params
	if observer != nil {
		observer.OnProgress(100, "[COMPLETE] done")
	}
	return "# DEEP RESEARCH RESULTS FOR: " + query
}

type fakeArchive struct {
	sessionID uuid.UUID
	records   []history.ResearchRecord
	err       error
}

func (f *fakeArchive) SaveRecord(ctx context.Context, sessionID uuid.UUID, rec history.ResearchRecord) error {
	f.sessionID = sessionID
	f.records = append(f.records, rec)
	return f.err
}

func newTestAssistant(orch *toolCallingOrchestrator, opts ...Option) (*Assistant, *fakeFallback) {
	a := New(opts...)
	a.Orchestrators = pipeline.OrchestratorFactoryFunc(func(ctx context.Context, s clients.Settings) (pipeline.Orchestrator, error) {
		orch.settings = s
		return orch, nil
	})
	fallback := &fakeFallback{}
	a.Fallback = fallback
	return a, fallback
}

func fastOpenAISession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New()
	require.NoError(t, sess.Config.SetProvider(clients.OpenAI))
	require.NoError(t, sess.Config.SetCredential(session.CredentialOpenAI, "sk-test"))
	require.NoError(t, sess.Config.SetResearchMode(session.Fast))
	return sess
}

func TestSubmit_QuantumComputingFastOpenAI(t *testing.T) {
	orch := &toolCallingOrchestrator{}
	m := metrics.New()
	archive := &fakeArchive{}
	a, fallback := newTestAssistant(orch, WithMetrics(m), WithArchive(archive))
	sess := fastOpenAISession(t)

	rec, err := a.Submit(context.Background(), sess, "quantum computing", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Metrics.MaxDepth)
	assert.Equal(t, 5, rec.Metrics.MaxURLs)
	assert.Equal(t, "Fast", rec.Mode)
	assert.Equal(t, "OpenAI", rec.Provider)
	assert.NotEmpty(t, rec.FinalReport)
	assert.Contains(t, rec.FinalReport, "COMPREHENSIVE RESEARCH RESULTS")
	assert.Equal(t, []string{"quantum computing"}, fallback.queries)
	assert.Equal(t, "sk-test", orch.settings.APIKey)

	latest, ok := sess.History.Latest()
	require.True(t, ok)
	assert.Equal(t, rec.ID, latest.ID)

	for _, f := range export.Formats {
		out, err := export.Encode(rec, f)
		require.NoError(t, err, f)
		assert.NotEmpty(t, out)
	}

	require.Len(t, archive.records, 1)
	assert.Equal(t, sess.ID, archive.sessionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("OpenAI", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PathTotal.WithLabelValues(metrics.PathScrape)))
	assert.False(t, sess.Busy())
}

func TestSubmit_UsesDeepResearchWithCredential(t *testing.T) {
	orch := &toolCallingOrchestrator{}
	a, fallback := newTestAssistant(orch)
	deep := &fakeDeep{}
	var gotKey string
	a.NewDeep = func(apiKey string, debug bool, logger *slog.Logger) research.DeepResearcher {
		gotKey = apiKey
		return deep
	}

	sess := fastOpenAISession(t)
	require.NoError(t, sess.Config.SetCredential(session.CredentialFirecrawl, "fc-key"))
	require.NoError(t, sess.Config.SetResearchMode(session.Deep))

	var progress []int
	rec, err := a.Submit(context.Background(), sess, "quantum computing", research.ProgressFunc(func(p int, _ string) {
		progress = append(progress, p)
	}))
	require.NoError(t, err)

	assert.Equal(t, "fc-key", gotKey)
	assert.Empty(t, fallback.queries)
	assert.Equal(t, 3, deep.params.MaxDepth)
	assert.Equal(t, []int{100}, progress)
	assert.Contains(t, rec.FinalReport, "DEEP RESEARCH RESULTS")
}

func TestSubmit_ConfigurationErrors(t *testing.T) {
	a, _ := newTestAssistant(&toolCallingOrchestrator{})

	t.Run("missing key", func(t *testing.T) {
		sess := session.New()
		_, err := a.Submit(context.Background(), sess, "quantum computing", nil)

		var cfgErr *session.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "Please enter your OpenAI API key.", cfgErr.Message)
		assert.Zero(t, sess.History.Len())
		assert.False(t, sess.Busy())
	})

	t.Run("empty topic", func(t *testing.T) {
		sess := fastOpenAISession(t)
		_, err := a.Submit(context.Background(), sess, "   ", nil)

		var cfgErr *session.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "topic", cfgErr.Field)
	})
}

func TestSubmit_PipelineErrorIsNotRecorded(t *testing.T) {
	m := metrics.New()
	a, _ := newTestAssistant(&toolCallingOrchestrator{err: errors.New("rate limit exceeded")}, WithMetrics(m))
	sess := fastOpenAISession(t)

	_, err := a.Submit(context.Background(), sess, "quantum computing", nil)
	require.Error(t, err)
	assert.True(t, pipeline.IsPipelineError(err))
	assert.Contains(t, err.Error(), "rate limit exceeded")
	runID, ok := RunID(err)
	assert.True(t, ok)
	assert.NotEqual(t, uuid.Nil, runID)
	assert.Zero(t, sess.History.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("OpenAI", "failure")))
}

func TestSubmit_ArchiveFailureKeepsRecord(t *testing.T) {
	a, _ := newTestAssistant(&toolCallingOrchestrator{}, WithArchive(&fakeArchive{err: errors.New("db down")}))
	sess := fastOpenAISession(t)

	_, err := a.Submit(context.Background(), sess, "quantum computing", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.History.Len())
}

func TestSubmit_RejectsConcurrentSubmission(t *testing.T) {
	orch := &toolCallingOrchestrator{block: make(chan struct{})}
	a, _ := newTestAssistant(orch)
	sess := fastOpenAISession(t)

	done := make(chan error, 1)
	go func() {
		_, err := a.Submit(context.Background(), sess, "quantum computing", nil)
		done <- err
	}()

	require.Eventually(t, sess.Busy, time.Second, time.Millisecond)

	_, err := a.Submit(context.Background(), sess, "second topic", nil)
	assert.ErrorIs(t, err, session.ErrBusy)
	assert.ErrorIs(t, sess.Update(func(c *session.Configuration) error { return nil }), session.ErrBusy)

	close(orch.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, sess.History.Len())
}

func TestSubmit_RunLogHandlerReceivesRunLogs(t *testing.T) {
	var buf bytes.Buffer
	var gotRunID uuid.UUID
	a, _ := newTestAssistant(&toolCallingOrchestrator{}, WithRunLogHandler(func(runID uuid.UUID) slog.Handler {
		gotRunID = runID
		return slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	}))
	sess := fastOpenAISession(t)

	rec, err := a.Submit(context.Background(), sess, "quantum computing", nil)
	require.NoError(t, err)

	out := buf.String()
	assert.NotEqual(t, uuid.Nil, gotRunID)
	assert.Equal(t, gotRunID, rec.RunID)
	assert.Contains(t, out, "run_id="+gotRunID.String())
	assert.Contains(t, out, "Research completed")
	assert.NotContains(t, out, "sk-test")
	assert.True(t, strings.Contains(out, "config.openai_key_set=true"))
}

func TestRunID_ConfigurationErrorsHaveNoRun(t *testing.T) {
	a, _ := newTestAssistant(&toolCallingOrchestrator{})
	_, err := a.Submit(context.Background(), session.New(), "quantum computing", nil)
	require.Error(t, err)
	_, ok := RunID(err)
	assert.False(t, ok)
}
