package assistant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/pipeline"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
	"github.com/mikeboe/deep-research/pkg/session"
)

// Archive persists completed records outside the session.
type Archive interface {
	SaveRecord(ctx context.Context, sessionID uuid.UUID, rec history.ResearchRecord) error
}

// Assistant runs submissions for sessions: validate, research and write,
// then record.
type Assistant struct {
	Orchestrators pipeline.OrchestratorFactory
	Fallback      research.Fallback
	// NewDeep builds the hosted research client for a credential.
	NewDeep func(apiKey string, debug bool, logger *slog.Logger) research.DeepResearcher
	Metrics *metrics.Metrics
	Archive Archive
	// RunLogHandler, when set, receives every log line of a run in addition
	// to Logger.
	RunLogHandler func(runID uuid.UUID) slog.Handler
	Logger        *slog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assistant) { a.Metrics = m }
}

func WithArchive(archive Archive) Option {
	return func(a *Assistant) { a.Archive = archive }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Assistant) { a.Logger = logger }
}

func WithRunLogHandler(fn func(runID uuid.UUID) slog.Handler) Option {
	return func(a *Assistant) { a.RunLogHandler = fn }
}

// WithFirecrawlBaseURL points the hosted research client at another endpoint.
func WithFirecrawlBaseURL(baseURL string) Option {
	return func(a *Assistant) {
		if baseURL == "" {
			return
		}
		next := a.NewDeep
		a.NewDeep = func(apiKey string, debug bool, logger *slog.Logger) research.DeepResearcher {
			deep := next(apiKey, debug, logger)
			if c, ok := deep.(*tools.FirecrawlClient); ok {
				c.BaseURL = baseURL
			}
			return deep
		}
	}
}

// New wires the production research paths and orchestrators.
func New(opts ...Option) *Assistant {
	a := &Assistant{Logger: slog.Default()}
	a.NewDeep = func(apiKey string, debug bool, logger *slog.Logger) research.DeepResearcher {
		c := tools.NewFirecrawlClient(apiKey)
		c.Debug = debug
		c.Metrics = a.Metrics
		c.Logger = logger
		return c
	}
	for _, opt := range opts {
		opt(a)
	}

	scraper := tools.NewWebScraper()
	scraper.Metrics = a.Metrics
	scraper.Logger = a.logger()
	a.Fallback = scraper

	if a.Orchestrators == nil {
		a.Orchestrators = pipeline.DefaultOrchestrators{Logger: a.logger()}
	}
	return a
}

// RunError is a failure of a run that already had logs written under RunID.
type RunError struct {
	RunID uuid.UUID
	Err   error
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// RunID returns the run a submission error belongs to, if any.
func RunID(err error) (uuid.UUID, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re.RunID, true
	}
	return uuid.Nil, false
}

// Submit runs one research request for sess. Only one submission per session
// runs at a time; a second one fails with session.ErrBusy. Configuration and
// pipeline errors are returned and leave the history untouched. Pipeline
// errors come wrapped in a RunError.
func (a *Assistant) Submit(ctx context.Context, sess *session.Session, topic string, observer research.ProgressObserver) (history.ResearchRecord, error) {
	if err := sess.Begin(); err != nil {
		return history.ResearchRecord{}, err
	}
	defer sess.End()

	var cfg *session.Configuration
	sess.View(func(c *session.Configuration) { cfg = c.Clone() })

	query, err := cfg.Snapshot(topic)
	if err != nil {
		return history.ResearchRecord{}, err
	}
	settings := cfg.LLMSettings()
	firecrawlKey := cfg.Credentials.Firecrawl

	runID := uuid.New()
	logger := a.runLogger(runID).With("run_id", runID, "session_id", sess.ID)
	logger.Info("Starting research", "topic", query.Topic, "config", cfg)

	selector := &research.Selector{
		Credential: firecrawlKey,
		Fallback:   a.Fallback,
		Observer:   observer,
		Metrics:    a.Metrics,
		Logger:     logger,
	}
	if firecrawlKey != "" && a.NewDeep != nil {
		selector.Deep = a.NewDeep(firecrawlKey, cfg.Debug, logger)
	}

	runner := pipeline.NewRunner(a.Orchestrators)
	runner.Logger = logger

	start := time.Now()
	report, err := runner.Execute(ctx, query, settings, selector)
	end := time.Now()
	a.Metrics.ObserveRun(string(settings.Provider), query.Params.Mode, end.Sub(start), err)
	if err != nil {
		logger.Error("Research failed", "error", err, "duration", end.Sub(start))
		return history.ResearchRecord{}, &RunError{RunID: runID, Err: err}
	}

	rec := sess.History.Record(runID, query.Topic, string(settings.Provider), report, start, end, query.Params)
	logger.Info("Research completed", "record_id", rec.ID, "research_time", rec.Metrics.ResearchTimeSeconds)

	if a.Archive != nil {
		if err := a.Archive.SaveRecord(ctx, sess.ID, rec); err != nil {
			logger.Warn("Failed to archive research record", "record_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

func (a *Assistant) runLogger(runID uuid.UUID) *slog.Logger {
	base := a.logger()
	if a.RunLogHandler == nil {
		return base
	}
	return slog.New(fanout{base.Handler(), a.RunLogHandler(runID)})
}

func (a *Assistant) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
