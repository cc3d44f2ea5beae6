package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"triagebot/internal/config"
	"triagebot/internal/oracle"
)

type stubTool struct {
	name   string
	result string
	calls  []string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"cluster_id": map[string]any{"type": "string"}},
		"required":   []any{"cluster_id"},
	}
}
func (s *stubTool) Call(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	s.calls = append(s.calls, string(args))
	return json.RawMessage(s.result), nil
}

func anthropicServer(t *testing.T, responses []string, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	idx := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request is not JSON: %v", err)
		}
		mu.Lock()
		*seen = append(*seen, req)
		resp := responses[idx]
		if idx < len(responses)-1 {
			idx++
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const textResponse = `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"{\"root_cause\":\"EMR step exceeded memory allocation\"}"}],
"stop_reason":"end_turn","usage":{"input_tokens":30,"output_tokens":12}}`

const toolUseResponse = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"checking logs"},{"type":"tool_use","id":"toolu_1","name":"get_emr_logs","input":{"cluster_id":"j-1"}}],
"stop_reason":"tool_use","usage":{"input_tokens":20,"output_tokens":8}}`

func TestAnthropicOracleToolLoop(t *testing.T) {
	var seen []map[string]any
	srv := anthropicServer(t, []string{toolUseResponse, textResponse}, &seen)
	tool := &stubTool{name: "get_emr_logs", result: `{"log":"java.lang.OutOfMemoryError"}`}

	o := NewAnthropic("test-key", "claude-test", 4, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	got, err := o.Complete(context.Background(), oracle.Request{
		System: "investigate",
		Prompt: "EMR step failed",
		Tools:  []oracle.Tool{tool},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(got.Text, "root_cause") {
		t.Fatalf("unexpected text: %q", got.Text)
	}
	if len(tool.calls) != 1 || !strings.Contains(tool.calls[0], "j-1") {
		t.Fatalf("tool should be called once with input, got %v", tool.calls)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Tool != "get_emr_logs" {
		t.Fatalf("unexpected tool calls: %+v", got.ToolCalls)
	}
	if got.Usage.InputTokens != 50 || got.Usage.OutputTokens != 20 {
		t.Fatalf("usage not accumulated: %+v", got.Usage)
	}

	if len(seen) != 2 {
		t.Fatalf("expected two requests, got %d", len(seen))
	}
	tools, _ := seen[0]["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("first request should offer one tool, got %v", seen[0]["tools"])
	}
	second, _ := json.Marshal(seen[1]["messages"])
	if !strings.Contains(string(second), "tool_result") || !strings.Contains(string(second), "toolu_1") {
		t.Fatalf("second request should carry the tool result, got %s", second)
	}
}

func TestAnthropicOracleRoundLimit(t *testing.T) {
	var seen []map[string]any
	srv := anthropicServer(t, []string{toolUseResponse}, &seen)
	tool := &stubTool{name: "get_emr_logs", result: `{}`}

	o := NewAnthropic("test-key", "claude-test", 2, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := o.Complete(context.Background(), oracle.Request{Prompt: "loop", Tools: []oracle.Tool{tool}})
	if err == nil || !strings.Contains(err.Error(), "exceeded 2 rounds") {
		t.Fatalf("expected round limit error, got %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected two requests, got %d", len(seen))
	}
}

func TestCallToolUnknownReturnsError(t *testing.T) {
	res, isErr := callTool(context.Background(), map[string]oracle.Tool{}, "retry_emr", nil)
	if !isErr || !strings.Contains(string(res), "unknown tool") {
		t.Fatalf("unexpected result %s isErr=%v", res, isErr)
	}
}

func TestOpenAIOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"{\"intent\":\"dag_failure\",\"confidence\":0.8}"}}],"usage":{"prompt_tokens":11,"completion_tokens":7}}`)
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", "", srv.URL, srv.Client())
	if o.SupportsTools() {
		t.Fatalf("openai oracle should not claim tool support")
	}
	got, err := o.Complete(context.Background(), oracle.Request{System: "classify", Prompt: "dag failed"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(got.Text, "dag_failure") || got.Usage.InputTokens != 11 {
		t.Fatalf("unexpected completion: %+v", got)
	}
}

func TestOpenAIOracleAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	_, err := NewOpenAI("sk-bad", "", srv.URL, srv.Client()).Complete(context.Background(), oracle.Request{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	o, err := New(config.Config{LLMProvider: config.ProviderOffline})
	if err != nil || o != nil {
		t.Fatalf("offline should yield nil oracle, got %v %v", o, err)
	}
	o, err = New(config.Config{LLMProvider: config.ProviderAnthropic, AnthropicAPIKey: "k", LLMMaxToolRounds: 3})
	if err != nil || o == nil || !o.SupportsTools() {
		t.Fatalf("anthropic oracle expected, got %v %v", o, err)
	}
	if _, err := New(config.Config{LLMProvider: "bedrock"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
