package llm

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"

	"triagebot/internal/config"
	"triagebot/internal/httpx"
	"triagebot/internal/oracle"
)

// New builds the oracle selected by llm_provider. The offline provider
// returns a nil oracle, which sends every stage down its degraded path.
func New(cfg config.Config) (oracle.Oracle, error) {
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.LLMModel, cfg.LLMMaxToolRounds,
			option.WithHTTPClient(httpx.ExternalHTTPClient())), nil
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL, httpx.ExternalHTTPClient()), nil
	case config.ProviderOffline, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported llm_provider %q", cfg.LLMProvider)
	}
}
