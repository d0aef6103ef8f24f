package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/assistant"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/export"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/pipeline"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRecordNotFound  = errors.New("research record not found")
	ErrNoDatabase      = errors.New("no database configured")
)

// RecordStore lists archived records of a session.
type RecordStore interface {
	ListRecords(ctx context.Context, sessionID uuid.UUID, limit int) ([]history.ResearchRecord, error)
}

// RunLogStore reads back the persisted log lines of a run.
type RunLogStore interface {
	RunLogs(ctx context.Context, runID uuid.UUID) ([]database.LogEntry, error)
}

type Service struct {
	Sessions  *session.Registry
	Assistant *assistant.Assistant
	// Records and Logs are optional. Without them records live only in their
	// session and run logs only reach the console.
	Records RecordStore
	Logs    RunLogStore
}

func NewService(sessions *session.Registry, a *assistant.Assistant, db *database.PostgresDB) *Service {
	s := &Service{
		Sessions:  sessions,
		Assistant: a,
	}
	if db != nil {
		s.Records = db
		s.Logs = db
	}
	return s
}

// ConfigRequest is a partial update of a session configuration. Nil fields
// are left unchanged.
type ConfigRequest struct {
	Provider         *string           `json:"provider,omitempty"`
	Model            *string           `json:"model,omitempty"`
	Credentials      map[string]string `json:"credentials,omitempty"`
	ClearCredentials []string          `json:"clear_credentials,omitempty"`
	ResearchMode     *string           `json:"research_mode,omitempty"`
	MaxDepth         *int              `json:"max_depth,omitempty"`
	TimeLimitMinutes *int              `json:"time_limit_minutes,omitempty"`
	MaxURLs          *int              `json:"max_urls,omitempty"`
	Debug            *bool             `json:"debug,omitempty"`
}

// Apply updates c. The provider is applied before the model, and the mode
// before deep parameters. Cleared credentials are removed before new ones are
// set. Run it through Session.Update so a failed request changes nothing.
func (r ConfigRequest) Apply(c *session.Configuration) error {
	if r.Provider != nil {
		p, err := clients.ParseProvider(*r.Provider)
		if err != nil {
			return err
		}
		if err := c.SetProvider(p); err != nil {
			return err
		}
	}
	if r.Model != nil {
		c.Models[c.Provider] = strings.TrimSpace(*r.Model)
	}
	for _, name := range r.ClearCredentials {
		if err := c.ClearCredential(session.CredentialName(strings.ToLower(name))); err != nil {
			return err
		}
	}
	for name, key := range r.Credentials {
		if err := c.SetCredential(session.CredentialName(strings.ToLower(name)), key); err != nil {
			return err
		}
	}
	if r.Debug != nil {
		c.SetDebug(*r.Debug)
	}
	if r.ResearchMode != nil {
		mode, err := session.ParseResearchMode(*r.ResearchMode)
		if err != nil {
			return err
		}
		if err := c.SetResearchMode(mode); err != nil {
			return err
		}
	}

	if r.MaxDepth == nil && r.TimeLimitMinutes == nil && r.MaxURLs == nil {
		return nil
	}
	current := c.CurrentParams()
	depth, limit, urls := current.MaxDepth, time.Duration(current.TimeLimitSeconds)*time.Second, current.MaxURLs
	if r.MaxDepth != nil {
		depth = *r.MaxDepth
	}
	if r.TimeLimitMinutes != nil {
		limit = time.Duration(*r.TimeLimitMinutes) * time.Minute
	}
	if r.MaxURLs != nil {
		urls = *r.MaxURLs
	}
	return c.SetDeepParams(depth, limit, urls)
}

// ConfigView is the public view of a configuration. Keys are reported only
// as set or unset.
type ConfigView struct {
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	ResearchMode   string          `json:"research_mode"`
	Description    string          `json:"description"`
	EstimatedTime  string          `json:"estimated_time"`
	Params         research.Params `json:"params"`
	Debug          bool            `json:"debug"`
	CredentialsSet map[string]bool `json:"credentials_set"`
}

func NewConfigView(c *session.Configuration) ConfigView {
	mode := c.Mode()
	return ConfigView{
		Provider:      string(c.Provider),
		Model:         c.LLMSettings().ModelName(),
		ResearchMode:  string(mode),
		Description:   mode.Description(),
		EstimatedTime: mode.EstimatedTime(),
		Params:        c.CurrentParams(),
		Debug:         c.Debug,
		CredentialsSet: map[string]bool{
			string(session.CredentialOpenAI):    c.Credentials.OpenAI != "",
			string(session.CredentialGroq):      c.Credentials.Groq != "",
			string(session.CredentialGemini):    c.Credentials.Gemini != "",
			string(session.CredentialFirecrawl): c.Credentials.Firecrawl != "",
		},
	}
}

type SessionView struct {
	ID        uuid.UUID  `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Busy      bool       `json:"busy"`
	Records   int        `json:"records"`
	Config    ConfigView `json:"config"`
}

func NewSessionView(s *session.Session) SessionView {
	return SessionView{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Busy:      s.Busy(),
		Records:   s.History.Len(),
		Config:    SessionConfigView(s),
	}
}

// SessionConfigView reads the session configuration under its lock.
func SessionConfigView(s *session.Session) ConfigView {
	var view ConfigView
	s.View(func(c *session.Configuration) { view = NewConfigView(c) })
	return view
}

// DebugEnabled reports the session's debug flag.
func DebugEnabled(s *session.Session) bool {
	var debug bool
	s.View(func(c *session.Configuration) { debug = c.Debug })
	return debug
}

// CreateSession starts a session from the process defaults and applies req
// on top.
func (s *Service) CreateSession(req ConfigRequest) (*session.Session, error) {
	sess := s.Sessions.Create()
	if err := sess.Update(req.Apply); err != nil {
		s.Sessions.Delete(sess.ID)
		return nil, err
	}
	sess.View(func(c *session.Configuration) {
		slog.Info("Session created", "session_id", sess.ID, "config", c)
	})
	return sess, nil
}

func (s *Service) GetSession(id uuid.UUID) (*session.Session, error) {
	sess, ok := s.Sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// UpdateConfig fails with session.ErrBusy while a run is in flight.
func (s *Service) UpdateConfig(id uuid.UUID, req ConfigRequest) (*session.Session, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	if err := sess.Update(req.Apply); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) Research(ctx context.Context, id uuid.UUID, topic string, observer research.ProgressObserver) (history.ResearchRecord, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return history.ResearchRecord{}, err
	}
	return s.Assistant.Submit(ctx, sess, topic, observer)
}

func (s *Service) History(id uuid.UUID) ([]history.ResearchRecord, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	return sess.History.Display(), nil
}

func (s *Service) Latest(id uuid.UUID) (history.ResearchRecord, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return history.ResearchRecord{}, err
	}
	rec, ok := sess.History.Latest()
	if !ok {
		return history.ResearchRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

// Export renders one of the session's records and names the download.
func (s *Service) Export(id, recordID uuid.UUID, format export.Format) (body, fileName string, err error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return "", "", err
	}
	rec, ok := sess.History.Get(recordID)
	if !ok {
		return "", "", ErrRecordNotFound
	}
	body, err = export.Encode(rec, format)
	if err != nil {
		return "", "", err
	}
	return body, export.FileName(rec.Topic, format), nil
}

func (s *Service) Archive(ctx context.Context, id uuid.UUID) ([]history.ResearchRecord, error) {
	if s.Records == nil {
		return nil, ErrNoDatabase
	}
	return s.Records.ListRecords(ctx, id, 50)
}

func (s *Service) RunLogs(ctx context.Context, runID uuid.UUID) ([]database.LogEntry, error) {
	if s.Logs == nil {
		return nil, ErrNoDatabase
	}
	return s.Logs.RunLogs(ctx, runID)
}

// ErrorBody is the error payload of a failed request. RunID is set when the
// failed run left logs behind.
type ErrorBody struct {
	Error string     `json:"error"`
	RunID *uuid.UUID `json:"run_id,omitempty"`
}

// NewErrorBody builds the payload for a failed submission.
func NewErrorBody(err error, debug bool) ErrorBody {
	body := ErrorBody{Error: ErrorMessage(err, debug)}
	if runID, ok := assistant.RunID(err); ok {
		body.RunID = &runID
	}
	return body
}

// ErrorMessage is the user-facing text for a failed submission. Pipeline
// details are shown only in debug mode.
func ErrorMessage(err error, debug bool) string {
	var pe *pipeline.PipelineError
	if debug || !errors.As(err, &pe) {
		return err.Error()
	}
	return fmt.Sprintf("An error occurred: %v", pe.Err)
}
