package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/research"
)

// State of a pipeline run. The researcher to writer handoff happens inside
// the orchestrator; the runner only learns about it through AgentSpec.OnStart.
type State int

const (
	Idle State = iota
	ResearcherTurn
	WriterTurn
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ResearcherTurn:
		return "researcher_turn"
	case WriterTurn:
		return "writer_turn"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// AgentSpec describes one agent and the task it is given.
type AgentSpec struct {
	Name           string
	Role           string
	Goal           string
	Backstory      string
	Task           string
	ExpectedOutput string
	UsesTool       bool
	// OnStart is called by the orchestrator when the agent takes its turn.
	OnStart func()
}

// SystemPrompt renders role, goal and backstory.
func (a AgentSpec) SystemPrompt() string {
	return fmt.Sprintf("You are a %s.\nYour goal: %s\n\n%s", a.Role, a.Goal, a.Backstory)
}

// Prompt renders the task, optionally followed by the previous agent's output.
func (a AgentSpec) Prompt(previous string) string {
	var sb strings.Builder
	sb.WriteString(a.Task)
	if a.ExpectedOutput != "" {
		sb.WriteString("\n\nExpected output: ")
		sb.WriteString(a.ExpectedOutput)
	}
	if previous != "" {
		sb.WriteString("\n\nContext from the previous task:\n")
		sb.WriteString(previous)
	}
	return sb.String()
}

func (a AgentSpec) start() {
	if a.OnStart != nil {
		a.OnStart()
	}
}

// ToolArgs are the arguments the researcher passes to the research tool.
type ToolArgs struct {
	Query     string `json:"query" description:"The research topic, exactly as given"`
	MaxDepth  int    `json:"max_depth" description:"How deep to search (1=shallow, 5=very deep)"`
	TimeLimit int    `json:"time_limit" description:"Maximum research time in seconds"`
	MaxURLs   int    `json:"max_urls" description:"Maximum number of sources to analyze"`
}

// ToolResult wraps the report fragment for orchestrators that need a struct.
type ToolResult struct {
	Report string `json:"report"`
}

// Tool is the research capability bound to the researcher agent.
type Tool struct {
	Name        string
	Description string
	Call        func(ctx context.Context, args ToolArgs) (string, error)
}

// Definition describes the tool for function-calling models.
func (t Tool) Definition() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":      map[string]any{"type": "string", "description": "The research topic, exactly as given"},
					"max_depth":  map[string]any{"type": "integer", "description": "How deep to search (1=shallow, 5=very deep)"},
					"time_limit": map[string]any{"type": "integer", "description": "Maximum research time in seconds"},
					"max_urls":   map[string]any{"type": "integer", "description": "Maximum number of sources to analyze"},
				},
				"required": []string{"query", "max_depth", "time_limit", "max_urls"},
			},
		},
	}
}

// CallJSON decodes raw JSON arguments and invokes the tool.
func (t Tool) CallJSON(ctx context.Context, raw string) (string, error) {
	var args ToolArgs
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("invalid %s arguments: %w", t.Name, err)
		}
	}
	return t.Call(ctx, args)
}

// Orchestrator runs the researcher then the writer and returns the writer's
// final text.
type Orchestrator interface {
	RunPipeline(ctx context.Context, researcher, writer AgentSpec, tool Tool) (string, error)
}

// OrchestratorFactory builds an orchestrator for the selected provider.
type OrchestratorFactory interface {
	Orchestrator(ctx context.Context, settings clients.Settings) (Orchestrator, error)
}

// OrchestratorFactoryFunc adapts a function to OrchestratorFactory.
type OrchestratorFactoryFunc func(ctx context.Context, settings clients.Settings) (Orchestrator, error)

func (f OrchestratorFactoryFunc) Orchestrator(ctx context.Context, settings clients.Settings) (Orchestrator, error) {
	return f(ctx, settings)
}

// PipelineError is fatal to the current submission. It is not retried.
type PipelineError struct {
	Provider clients.Provider
	Stage    string
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("research pipeline failed during %s (%s): %v", e.Stage, e.Provider, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsPipelineError reports whether err came out of the orchestration.
func IsPipelineError(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe)
}

// Runner wires the research tool into a two-agent pipeline and returns the
// orchestration's output unmodified.
type Runner struct {
	Orchestrators OrchestratorFactory
	Logger        *slog.Logger

	mu    sync.Mutex
	state State
}

func NewRunner(factory OrchestratorFactory) *Runner {
	return &Runner{Orchestrators: factory, Logger: slog.Default()}
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.logger().Debug("Pipeline state changed", "state", s.String())
}

// Execute runs one submission. researcher is bound as the tool; settings
// select the LLM provider and credential.
func (r *Runner) Execute(ctx context.Context, q research.Query, settings clients.Settings, researcher research.Researcher) (string, error) {
	r.setState(ResearcherTurn)

	orchestrator, err := r.Orchestrators.Orchestrator(ctx, settings)
	if err != nil {
		r.setState(Failed)
		return "", &PipelineError{Provider: settings.Provider, Stage: "setup", Err: err}
	}

	researcherSpec := ResearcherSpec(q)
	writerSpec := WriterSpec(q.Topic)
	writerSpec.OnStart = func() { r.setState(WriterTurn) }

	r.logger().Info("Running research crew", "topic", q.Topic, "provider", settings.Provider, "model", settings.ModelName())
	report, err := orchestrator.RunPipeline(ctx, researcherSpec, writerSpec, ResearchTool(researcher, q))
	if err != nil {
		stage := "researcher_turn"
		if r.State() == WriterTurn {
			stage = "writer_turn"
		}
		r.setState(Failed)
		return "", &PipelineError{Provider: settings.Provider, Stage: stage, Err: err}
	}

	r.setState(Done)
	return report, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ResearchTool binds researcher as the deep_research tool. Every parameter is
// always threaded through: values the model leaves out come from the query
// snapshot.
func ResearchTool(researcher research.Researcher, q research.Query) Tool {
	return Tool{
		Name:        ToolName,
		Description: "A tool to perform deep research on a given topic using a hosted deep research service (preferred) or web scraping (fallback).",
		Call: func(ctx context.Context, args ToolArgs) (string, error) {
			params := q.Params
			if args.MaxDepth > 0 {
				params.MaxDepth = args.MaxDepth
			}
			if args.TimeLimit > 0 {
				params.TimeLimitSeconds = args.TimeLimit
			}
			if args.MaxURLs > 0 {
				params.MaxURLs = args.MaxURLs
			}
			query := strings.TrimSpace(args.Query)
			if query == "" {
				query = q.Topic
			}
			return researcher.Research(ctx, query, params), nil
		},
	}
}
