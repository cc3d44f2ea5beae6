package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"triagebot/internal/config"
	"triagebot/internal/httpx"
	"triagebot/internal/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "triagebot",
		Short: "Automated incident triage for data platform alerts",
		Long: "triagebot classifies incoming incidents, investigates them with diagnostic tools,\n" +
			"attempts safe remediations and decides whether to close, retry, escalate or hand off.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Config file (default config.yaml or $CONFIG_PATH)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Override log_level")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Override log_format (json|console)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newRCACmd())
	root.AddCommand(newVersionCmd())
	root.Version = Version
	return root
}

// loadRuntime loads configuration and initialises logging and the shared
// HTTP client.
func loadRuntime() (config.Config, zerolog.Logger, error) {
	if rootFlags.configPath != "" {
		if err := os.Setenv("CONFIG_PATH", rootFlags.configPath); err != nil {
			return config.Config{}, zerolog.Nop(), err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if rootFlags.logLevel != "" {
		cfg.LogLevel = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		cfg.LogFormat = rootFlags.logFormat
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})
	log := logging.New("app")
	timeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Info().
		Str("llm_provider", cfg.LLMProvider).
		Str("llm_model", cfg.LLMModel).
		Bool("tool_gateway", cfg.ToolGatewayURL != "").
		Bool("servicenow", cfg.ServiceNowConfigured()).
		Bool("slack", cfg.SlackConfigured()).
		Str("db_path", cfg.DBPath).
		Str("external_http_timeout", timeout.String()).
		Msg("config loaded")
	return cfg, log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "triagebot %s\n", Version)
		},
	}
}
