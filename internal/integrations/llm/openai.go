package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"triagebot/internal/logging"
	"triagebot/internal/metrics"
	"triagebot/internal/oracle"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIOracle uses the chat completions endpoint. It does not drive tools,
// so stages that need tool use fall back to their offline path.
type OpenAIOracle struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewOpenAI(apiKey, model, baseURL string, client *http.Client) *OpenAIOracle {
	if model == "" {
		model = defaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIOracle{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     logging.New("llm"),
	}
}

func (o *OpenAIOracle) SupportsTools() bool { return false }

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAIOracle) Complete(ctx context.Context, req oracle.Request) (oracle.Completion, error) {
	var messages []openAIMessage
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	bodyBytes, err := json.Marshal(openAIRequest{Model: o.model, Messages: messages})
	if err != nil {
		return oracle.Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return oracle.Completion{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		o.log.Error().Err(err).Msg("llm openai error")
		return oracle.Completion{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return oracle.Completion{}, fmt.Errorf("reading response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return oracle.Completion{}, fmt.Errorf("parsing OpenAI response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		o.log.Error().Str("api_error", parsed.Error.Message).Int("status", resp.StatusCode).Msg("llm openai api error")
		return oracle.Completion{}, fmt.Errorf("OpenAI API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return oracle.Completion{}, fmt.Errorf("no choices in OpenAI response")
	}

	var usage oracle.Usage
	if parsed.Usage != nil {
		usage.InputTokens = parsed.Usage.PromptTokens
		usage.OutputTokens = parsed.Usage.CompletionTokens
	}
	metrics.RecordTokens(usage.InputTokens, usage.OutputTokens)

	text := parsed.Choices[0].Message.Content
	o.log.Debug().Int("size", len(text)).Int64("tokens_in", usage.InputTokens).Int64("tokens_out", usage.OutputTokens).Msg("llm openai response")
	return oracle.Completion{Text: text, Usage: usage}, nil
}
