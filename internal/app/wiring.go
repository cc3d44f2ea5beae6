package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"triagebot/internal/config"
	"triagebot/internal/httpx"
	"triagebot/internal/integrations/llm"
	"triagebot/internal/integrations/toolgw"
	"triagebot/internal/oracle"
	"triagebot/internal/policy"
	"triagebot/internal/storage/sqlite"
	"triagebot/internal/triage"
)

// components are the long-lived pieces shared by run and serve.
type components struct {
	store    *sqlite.Store
	gateway  *toolgw.Gateway
	pipeline *triage.Pipeline
}

func (c *components) Close() {
	if c.gateway != nil {
		_ = c.gateway.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}

func loadPolicy(cfg config.Config) (policy.Config, error) {
	if cfg.PolicyPath == "" {
		return policy.DefaultConfig(), nil
	}
	return policy.LoadFile(cfg.PolicyPath)
}

func buildComponents(cfg config.Config, log zerolog.Logger) (*components, error) {
	pol, err := loadPolicy(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := policy.NewEngine(pol)
	if err != nil {
		return nil, fmt.Errorf("policy engine: %w", err)
	}

	orc, err := llm.New(cfg)
	if err != nil {
		return nil, err
	}
	if orc == nil {
		log.Warn().Msg("no oracle configured, every stage runs in offline mode")
	}

	store, err := sqlite.Open(cfg.DBPath, cfg.RCAPrefix)
	if err != nil {
		return nil, err
	}
	c := &components{store: store}

	var tools oracle.Toolset
	if cfg.ToolGatewayURL != "" {
		c.gateway = toolgw.New(cfg.ToolGatewayURL, httpx.ExternalHTTPClient())
		tools = c.gateway
		log.Info().Str("url", cfg.ToolGatewayURL).Msg("tool gateway configured")
	}

	c.pipeline, err = triage.New(triage.Config{
		Oracle:  orc,
		Tools:   tools,
		Engine:  engine,
		Archive: store,
		Logger:  log.With().Str("component", "pipeline").Logger(),
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
