// Package toolgw exposes diagnostic and remediation tools served by an MCP
// gateway as oracle.Tool values.
package toolgw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"triagebot/internal/domain"
	"triagebot/internal/logging"
	"triagebot/internal/oracle"
)

const clientVersion = "v1.0.0"

// Gateway holds one MCP client session, opened lazily on first use and
// reopened after a failure.
type Gateway struct {
	newTransport func() sdkmcp.Transport
	client       *sdkmcp.Client
	log          zerolog.Logger

	mu      sync.Mutex
	session *sdkmcp.ClientSession
	tools   []oracle.Tool
}

// New connects to a streamable HTTP MCP endpoint.
func New(endpoint string, httpClient *http.Client) *Gateway {
	return NewWithTransport(func() sdkmcp.Transport {
		return &sdkmcp.StreamableClientTransport{
			Endpoint:             endpoint,
			HTTPClient:           httpClient,
			DisableStandaloneSSE: true,
		}
	})
}

// NewWithTransport uses newTransport for every (re)connect.
func NewWithTransport(newTransport func() sdkmcp.Transport) *Gateway {
	return &Gateway{
		newTransport: newTransport,
		client:       sdkmcp.NewClient(&sdkmcp.Implementation{Name: "triagebot", Version: clientVersion}, nil),
		log:          logging.New("toolgw"),
	}
}

func (g *Gateway) sessionLocked(ctx context.Context) (*sdkmcp.ClientSession, error) {
	if g.session != nil {
		return g.session, nil
	}
	session, err := g.client.Connect(ctx, g.newTransport(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect tool gateway: %w", err)
	}
	g.session = session
	return session, nil
}

func (g *Gateway) resetLocked() {
	if g.session != nil {
		_ = g.session.Close()
	}
	g.session = nil
	g.tools = nil
}

// Tools lists every known tool offered by the gateway. Tools whose names are
// not in the tool table are skipped.
func (g *Gateway) Tools(ctx context.Context) ([]oracle.Tool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tools != nil {
		return g.tools, nil
	}
	session, err := g.sessionLocked(ctx)
	if err != nil {
		return nil, err
	}

	var tools []oracle.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			g.resetLocked()
			return nil, fmt.Errorf("list tools: %w", err)
		}
		name := domain.ToolName(tool.Name)
		if name.Kind() == domain.ToolKindUnknown {
			g.log.Debug().Str("tool", tool.Name).Msg("ignoring unknown gateway tool")
			continue
		}
		tools = append(tools, &remoteTool{
			gw:          g,
			name:        tool.Name,
			description: tool.Description,
			schema:      schemaMap(tool.InputSchema),
		})
	}
	if tools == nil {
		tools = []oracle.Tool{}
	}
	g.tools = tools
	g.log.Info().Int("tools", len(tools)).Msg("tool gateway tools loaded")
	return tools, nil
}

func (g *Gateway) Diagnostics(ctx context.Context) ([]oracle.Tool, error) {
	return g.byKind(ctx, domain.ToolKindDiagnostic)
}

func (g *Gateway) Remediations(ctx context.Context) ([]oracle.Tool, error) {
	return g.byKind(ctx, domain.ToolKindRemediation)
}

func (g *Gateway) byKind(ctx context.Context, kind domain.ToolKind) ([]oracle.Tool, error) {
	all, err := g.Tools(ctx)
	if err != nil {
		return nil, err
	}
	var out []oracle.Tool
	for _, t := range all {
		if domain.ToolName(t.Name()).Kind() == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	err := g.session.Close()
	g.session = nil
	g.tools = nil
	return err
}

func (g *Gateway) call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	g.mu.Lock()
	session, err := g.sessionLocked(ctx)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("tool %s arguments: %w", name, err)
		}
	}

	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		g.mu.Lock()
		if g.session == session {
			g.resetLocked()
		}
		g.mu.Unlock()
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	return resultJSON(res)
}

// resultJSON turns a tool result into a JSON object. Tool errors become
// {"error": "..."} so callers only need to inspect the error field.
func resultJSON(res *sdkmcp.CallToolResult) (json.RawMessage, error) {
	text := firstText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return json.Marshal(map[string]string{"error": text})
	}
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, fmt.Errorf("encode structured content: %w", err)
		}
		return raw, nil
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	return json.Marshal(map[string]string{"output": text})
}

func firstText(res *sdkmcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func schemaMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	return out
}

type remoteTool struct {
	gw          *Gateway
	name        string
	description string
	schema      map[string]any
}

func (t *remoteTool) Name() string                { return t.name }
func (t *remoteTool) Description() string         { return t.description }
func (t *remoteTool) InputSchema() map[string]any { return t.schema }

func (t *remoteTool) Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return t.gw.call(ctx, t.name, args)
}
