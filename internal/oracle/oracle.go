// Package oracle defines the reasoning and tool capabilities the triage
// stages consume. Adapters in internal/integrations implement them.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable is returned when no reasoning capability is configured.
// Stages treat it as a signal to use their offline fallback.
var ErrUnavailable = errors.New("oracle unavailable")

// Tool is a named diagnostic or remediation capability. Call returns the
// tool's structured result; tool-level failures are reported inside the
// result as an "error" field, transport failures as a Go error.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ToolCall records one tool invocation made while answering a request.
type ToolCall struct {
	Tool   string          `json:"tool"`
	Input  json.RawMessage `json:"input"`
	Result json.RawMessage `json:"result"`
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

type Request struct {
	System string
	Prompt string
	// Tools offered for this request. Ignored by oracles that do not
	// support tool use.
	Tools []Tool
}

type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Oracle answers a prompt with free text expected to embed one JSON object.
type Oracle interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	SupportsTools() bool
}

// Toolset is the set of tools offered to the investigation and action
// stages.
type Toolset interface {
	Diagnostics(ctx context.Context) ([]Tool, error)
	Remediations(ctx context.Context) ([]Tool, error)
}

// Find returns the tool with the given name.
func Find(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}
