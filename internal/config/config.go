package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"triagebot/internal/domain"
	"triagebot/internal/policy"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOffline   = "offline"
)

type Config struct {
	LLMProvider      string `yaml:"llm_provider"`
	LLMModel         string `yaml:"llm_model"`
	LLMMaxToolRounds int    `yaml:"llm_max_tool_rounds"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`

	ToolGatewayURL string `yaml:"tool_gateway_url"`

	DBPath    string `yaml:"db_path"`
	RCAPrefix string `yaml:"rca_prefix"`

	ServiceNowInstance        string `yaml:"servicenow_instance"`
	ServiceNowUsername        string `yaml:"servicenow_username"`
	ServiceNowPassword        string `yaml:"servicenow_password"`
	ServiceNowAssignmentGroup string `yaml:"servicenow_assignment_group"`

	PollSchedule        string `yaml:"poll_schedule"`
	PollLimit           int    `yaml:"poll_limit"`
	PollLookbackMinutes int    `yaml:"poll_lookback_minutes"`
	MaxConcurrentRuns   int    `yaml:"max_concurrent_runs"`

	SlackBotToken        string   `yaml:"slack_bot_token"`
	SlackChannelID       string   `yaml:"slack_channel_id"`
	SlackNotifyDecisions []string `yaml:"slack_notify_decisions"`
	// Slack user IDs or names mentioned on escalate and human_review.
	SlackEscalationContacts []string `yaml:"slack_escalation_contacts"`

	PolicyPath                 string `yaml:"policy_path"`
	MetricsAddr                string `yaml:"metrics_addr"`
	LogLevel                   string `yaml:"log_level"`
	LogFormat                  string `yaml:"log_format"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
}

// LoadConfig reads config.yaml (or CONFIG_PATH), applies environment
// overrides and defaults, then validates the result.
func LoadConfig() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	var errs []error
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	errs = append(errs, envOverrideInt(&cfg.LLMMaxToolRounds, "LLM_MAX_TOOL_ROUNDS"))
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.ToolGatewayURL, "TOOL_GATEWAY_URL")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.RCAPrefix, "RCA_PREFIX")
	envOverride(&cfg.ServiceNowInstance, "SERVICENOW_INSTANCE")
	envOverride(&cfg.ServiceNowUsername, "SERVICENOW_USERNAME")
	envOverride(&cfg.ServiceNowPassword, "SERVICENOW_PASSWORD")
	envOverride(&cfg.ServiceNowAssignmentGroup, "SERVICENOW_ASSIGNMENT_GROUP")
	envOverride(&cfg.PollSchedule, "POLL_SCHEDULE")
	errs = append(errs, envOverrideInt(&cfg.PollLimit, "POLL_LIMIT"))
	errs = append(errs, envOverrideInt(&cfg.PollLookbackMinutes, "POLL_LOOKBACK_MINUTES"))
	errs = append(errs, envOverrideInt(&cfg.MaxConcurrentRuns, "MAX_CONCURRENT_RUNS"))
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverrideList(&cfg.SlackNotifyDecisions, "SLACK_NOTIFY_DECISIONS")
	envOverrideList(&cfg.SlackEscalationContacts, "SLACK_ESCALATION_CONTACTS")
	envOverride(&cfg.PolicyPath, "POLICY_PATH")
	envOverride(&cfg.MetricsAddr, "METRICS_ADDR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	errs = append(errs, envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"))
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLMProvider == "" {
		switch {
		case c.AnthropicAPIKey != "":
			c.LLMProvider = ProviderAnthropic
		case c.OpenAIAPIKey != "":
			c.LLMProvider = ProviderOpenAI
		default:
			c.LLMProvider = ProviderOffline
		}
	}
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	if c.LLMMaxToolRounds == 0 {
		c.LLMMaxToolRounds = 8
	}
	if c.DBPath == "" {
		c.DBPath = "./triagebot.db"
	}
	if c.RCAPrefix == "" {
		c.RCAPrefix = "rca/"
	}
	if c.PollSchedule == "" {
		c.PollSchedule = "*/5 * * * *"
	}
	if c.PollLimit == 0 {
		c.PollLimit = 10
	}
	if c.PollLookbackMinutes == 0 {
		c.PollLookbackMinutes = 10
	}
	if c.MaxConcurrentRuns == 0 {
		c.MaxConcurrentRuns = 4
	}
	if len(c.SlackNotifyDecisions) == 0 {
		c.SlackNotifyDecisions = []string{string(domain.DecisionEscalate), string(domain.DecisionHumanReview)}
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9091"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
}

func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case ProviderOffline:
	default:
		return fmt.Errorf("llm_provider must be 'anthropic', 'openai' or 'offline', got '%s'", c.LLMProvider)
	}

	serviceNowFields := map[string]string{
		"servicenow_instance":         c.ServiceNowInstance,
		"servicenow_username":         c.ServiceNowUsername,
		"servicenow_password":         c.ServiceNowPassword,
		"servicenow_assignment_group": c.ServiceNowAssignmentGroup,
	}
	set := 0
	for _, v := range serviceNowFields {
		if v != "" {
			set++
		}
	}
	if set > 0 && set < len(serviceNowFields) {
		for _, name := range []string{"servicenow_instance", "servicenow_username", "servicenow_password", "servicenow_assignment_group"} {
			if serviceNowFields[name] == "" {
				return fmt.Errorf("partial ServiceNow config: '%s' is not set (instance, username, password and assignment group are required together)", name)
			}
		}
	}

	if (c.SlackBotToken == "") != (c.SlackChannelID == "") {
		return fmt.Errorf("slack_bot_token and slack_channel_id must be set together")
	}
	for _, d := range c.SlackNotifyDecisions {
		if !domain.Decision(strings.TrimSpace(d)).Valid() {
			return fmt.Errorf("invalid slack_notify_decisions entry '%s'", d)
		}
	}

	if c.LLMMaxToolRounds < 1 {
		return fmt.Errorf("invalid llm_max_tool_rounds '%d': must be >= 1", c.LLMMaxToolRounds)
	}
	if c.PollLimit < 1 {
		return fmt.Errorf("invalid poll_limit '%d': must be >= 1", c.PollLimit)
	}
	if c.PollLookbackMinutes < 1 {
		return fmt.Errorf("invalid poll_lookback_minutes '%d': must be >= 1", c.PollLookbackMinutes)
	}
	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("invalid max_concurrent_runs '%d': must be >= 1", c.MaxConcurrentRuns)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.PolicyPath != "" {
		if _, err := policy.LoadFile(c.PolicyPath); err != nil {
			return fmt.Errorf("invalid policy_path '%s': %w", c.PolicyPath, err)
		}
	}
	return nil
}

func (c Config) ServiceNowConfigured() bool {
	return c.ServiceNowInstance != "" && c.ServiceNowUsername != "" && c.ServiceNowPassword != "" && c.ServiceNowAssignmentGroup != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

// NotifyDecisions returns the decisions that trigger a Slack message.
func (c Config) NotifyDecisions() map[domain.Decision]bool {
	out := make(map[domain.Decision]bool, len(c.SlackNotifyDecisions))
	for _, d := range c.SlackNotifyDecisions {
		out[domain.Decision(strings.TrimSpace(d))] = true
	}
	return out
}

// PollLookback is the created-since window used by the intake poller.
func (c Config) PollLookback() time.Duration {
	return time.Duration(c.PollLookbackMinutes) * time.Minute
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideList(field *[]string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = nil
		for _, part := range strings.Split(val, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				*field = append(*field, part)
			}
		}
	}
}
