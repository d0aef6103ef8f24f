package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/agent/workflowagents/sequentialagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/clients"
)

const (
	adkAppName        = "deep-research"
	adkUserID         = "user"
	researchOutputKey = "research_findings"
)

// ADKOrchestrator runs the pipeline as an ADK sequential agent. The
// researcher's output is handed to the writer through session state.
type ADKOrchestrator struct {
	Model  model.LLM
	Logger *slog.Logger
}

func NewADKOrchestrator(m model.LLM) *ADKOrchestrator {
	return &ADKOrchestrator{Model: m, Logger: slog.Default()}
}

func (o *ADKOrchestrator) RunPipeline(ctx context.Context, researcher, writer AgentSpec, t Tool) (string, error) {
	researchTool, err := functiontool.New[ToolArgs, ToolResult](
		functiontool.Config{
			Name:        t.Name,
			Description: t.Description,
		},
		func(tc tool.Context, args ToolArgs) (ToolResult, error) {
			report, err := t.Call(tc, args)
			return ToolResult{Report: report}, err
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create research tool: %w", err)
	}

	temperature := float32(clients.Temperature)
	genConfig := &genai.GenerateContentConfig{Temperature: &temperature}

	researcherAgent, err := llmagent.New(llmagent.Config{
		Name:                  researcher.Name,
		Model:                 o.Model,
		Description:           researcher.Goal,
		Instruction:           escapeInstruction(researcher.SystemPrompt() + "\n\n" + researcher.Prompt("")),
		Tools:                 []tool.Tool{researchTool},
		OutputKey:             researchOutputKey,
		GenerateContentConfig: genConfig,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create researcher agent: %w", err)
	}

	writerAgent, err := llmagent.New(llmagent.Config{
		Name:                  writer.Name,
		Model:                 o.Model,
		Description:           writer.Goal,
		Instruction:           escapeInstruction(writer.SystemPrompt()+"\n\n"+writer.Prompt("")) + "\n\nResearch findings:\n{" + researchOutputKey + "}",
		GenerateContentConfig: genConfig,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create writer agent: %w", err)
	}

	pipeline, err := sequentialagent.New(sequentialagent.Config{
		AgentConfig: agent.Config{
			Name:        "research_pipeline",
			Description: "Researches a topic and writes a structured report.",
			SubAgents:   []agent.Agent{researcherAgent, writerAgent},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create pipeline agent: %w", err)
	}

	sessionSvc := session.InMemoryService()
	created, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   adkAppName,
		UserID:    adkUserID,
		SessionID: uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create agent session: %w", err)
	}

	r, err := runner.New(runner.Config{
		AppName:        adkAppName,
		Agent:          pipeline,
		SessionService: sessionSvc,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := &genai.Content{
		Role:  string(genai.RoleUser),
		Parts: []*genai.Part{{Text: researcher.Task}},
	}

	researcher.start()
	var report strings.Builder
	writerStarted := false
	for event, err := range r.Run(ctx, adkUserID, created.Session.ID(), userContent, agent.RunConfig{
		StreamingMode: agent.StreamingModeNone,
	}) {
		if err != nil {
			return "", fmt.Errorf("agent run failed: %w", err)
		}
		if event.Author != writer.Name {
			continue
		}
		if !writerStarted {
			writerStarted = true
			writer.start()
		}
		if event.LLMResponse.Content == nil {
			continue
		}
		for _, part := range event.LLMResponse.Content.Parts {
			if part.Text != "" {
				report.WriteString(part.Text)
			}
		}
	}

	o.logger().Info("Agent pipeline completed", "report_len", report.Len())
	return report.String(), nil
}

func (o *ADKOrchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// escapeInstruction keeps user text from being read as state placeholders.
func escapeInstruction(s string) string {
	return strings.NewReplacer("{", "(", "}", ")").Replace(s)
}
