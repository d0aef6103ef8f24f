package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/clients"
)

const defaultMaxToolRounds = 4

// LangChainOrchestrator runs both agents against a langchaingo model, the
// researcher with function calling enabled.
type LangChainOrchestrator struct {
	LLM           llms.Model
	MaxToolRounds int
	Logger        *slog.Logger
}

func NewLangChainOrchestrator(llm llms.Model) *LangChainOrchestrator {
	return &LangChainOrchestrator{LLM: llm, MaxToolRounds: defaultMaxToolRounds, Logger: slog.Default()}
}

func (o *LangChainOrchestrator) RunPipeline(ctx context.Context, researcher, writer AgentSpec, tool Tool) (string, error) {
	researcher.start()
	findings, err := o.runAgent(ctx, researcher, "", &tool)
	if err != nil {
		return "", err
	}

	writer.start()
	return o.runAgent(ctx, writer, findings, nil)
}

func (o *LangChainOrchestrator) runAgent(ctx context.Context, spec AgentSpec, previous string, tool *Tool) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, spec.SystemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, spec.Prompt(previous)),
	}

	base := []llms.CallOption{llms.WithTemperature(clients.Temperature)}
	withTools := base
	if spec.UsesTool && tool != nil {
		withTools = append(append([]llms.CallOption{}, base...), llms.WithTools([]llms.Tool{tool.Definition()}))
	}

	maxRounds := o.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}

	for round := 0; ; round++ {
		opts := withTools
		toolsOffered := spec.UsesTool && tool != nil
		if round >= maxRounds {
			// Out of rounds: ask for the final answer without tools.
			opts = base
			toolsOffered = false
		}

		resp, err := o.LLM.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", fmt.Errorf("%s generation failed: %w", spec.Name, err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%s: model returned no choices", spec.Name)
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 || !toolsOffered {
			o.logger().Info("Agent finished", "agent", spec.Name, "rounds", round, "output_len", len(choice.Content))
			return choice.Content, nil
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			assistant.Parts = append(assistant.Parts, llms.TextContent{Text: choice.Content})
		}
		for _, call := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, call)
		}
		messages = append(messages, assistant)

		for _, call := range choice.ToolCalls {
			messages = append(messages, llms.MessageContent{
				Role:  llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{o.callTool(ctx, tool, call)},
			})
		}
	}
}

func (o *LangChainOrchestrator) callTool(ctx context.Context, tool *Tool, call llms.ToolCall) llms.ToolCallResponse {
	resp := llms.ToolCallResponse{ToolCallID: call.ID}
	if call.FunctionCall == nil {
		resp.Content = "error: tool call has no function"
		return resp
	}
	resp.Name = call.FunctionCall.Name

	if call.FunctionCall.Name != tool.Name {
		resp.Content = fmt.Sprintf("error: unknown tool %q", call.FunctionCall.Name)
		return resp
	}

	o.logger().Info("Agent tool call", "tool", tool.Name)
	out, err := tool.CallJSON(ctx, call.FunctionCall.Arguments)
	if err != nil {
		o.logger().Warn("Tool call failed", "tool", tool.Name, "error", err)
		resp.Content = "error: " + err.Error()
		return resp
	}
	resp.Content = out
	return resp
}

func (o *LangChainOrchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
