package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"triagebot/internal/logging"
	"triagebot/internal/metrics"
	"triagebot/internal/oracle"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicOracle answers requests through the Messages API. When tools are
// offered it runs the tool-use loop until the model stops asking for tools
// or maxRounds is reached.
type AnthropicOracle struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxRounds int
	log       zerolog.Logger
}

func NewAnthropic(apiKey, model string, maxRounds int, opts ...option.RequestOption) *AnthropicOracle {
	if model == "" {
		model = defaultAnthropicModel
	}
	if maxRounds < 1 {
		maxRounds = 1
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicOracle{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 4096,
		maxRounds: maxRounds,
		log:       logging.New("llm"),
	}
}

func (o *AnthropicOracle) SupportsTools() bool { return true }

func (o *AnthropicOracle) Complete(ctx context.Context, req oracle.Request) (oracle.Completion, error) {
	var out oracle.Completion

	byName := make(map[string]oracle.Tool, len(req.Tools))
	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		byName[t.Name()] = t
		tools = append(tools, toolParam(t))
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}

	for round := 1; ; round++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(o.model),
			MaxTokens: o.maxTokens,
			Messages:  messages,
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		message, err := o.client.Messages.New(ctx, params)
		if err != nil {
			o.log.Error().Err(err).Int("round", round).Msg("llm anthropic error")
			return out, fmt.Errorf("anthropic API error: %w", err)
		}
		usage := oracle.Usage{InputTokens: message.Usage.InputTokens, OutputTokens: message.Usage.OutputTokens}
		out.Usage.Add(usage)
		metrics.RecordTokens(usage.InputTokens, usage.OutputTokens)

		var text strings.Builder
		var results []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				result, isErr := callTool(ctx, byName, block.Name, block.Input)
				out.ToolCalls = append(out.ToolCalls, oracle.ToolCall{Tool: block.Name, Input: block.Input, Result: result})
				results = append(results, anthropic.NewToolResultBlock(block.ID, string(result), isErr))
			}
		}

		o.log.Debug().
			Int("round", round).
			Int("size", text.Len()).
			Int("tool_calls", len(results)).
			Int64("tokens_in", usage.InputTokens).
			Int64("tokens_out", usage.OutputTokens).
			Str("stop_reason", string(message.StopReason)).
			Msg("llm anthropic response")

		if message.StopReason != anthropic.StopReasonToolUse || len(results) == 0 {
			out.Text = text.String()
			if strings.TrimSpace(out.Text) == "" {
				return out, fmt.Errorf("no text content in Anthropic response")
			}
			return out, nil
		}
		if round >= o.maxRounds {
			return out, fmt.Errorf("anthropic tool loop exceeded %d rounds", o.maxRounds)
		}
		messages = append(messages, message.ToParam(), anthropic.NewUserMessage(results...))
	}
}

// callTool runs one tool_use request. Transport failures and unknown tools
// come back to the model as an error result rather than ending the loop.
func callTool(ctx context.Context, tools map[string]oracle.Tool, name string, input json.RawMessage) (json.RawMessage, bool) {
	t, ok := tools[name]
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool %q", name)), true
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	result, err := t.Call(ctx, input)
	if err != nil {
		return errorResult(err.Error()), true
	}
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	return result, false
}

func errorResult(msg string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return raw
}

func toolParam(t oracle.Tool) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{}
	in := t.InputSchema()
	if props, ok := in["properties"]; ok {
		schema.Properties = props
	}
	switch req := in["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: schema,
		},
	}
}
