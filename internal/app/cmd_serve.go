package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"triagebot/internal/integrations/servicenow"
	slackbot "triagebot/internal/integrations/slack"
	"triagebot/internal/poller"
)

const metricsShutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll ServiceNow and triage new incidents until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	if !cfg.ServiceNowConfigured() {
		return errors.New("serve requires servicenow_instance, servicenow_username, servicenow_password and servicenow_assignment_group")
	}

	comps, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()

	sn := servicenow.New(cfg.ServiceNowInstance, cfg.ServiceNowUsername, cfg.ServiceNowPassword, cfg.ServiceNowAssignmentGroup, nil)

	var notifier poller.Notifier
	if cfg.SlackConfigured() {
		notifier = slackbot.NewNotifier(slack.New(cfg.SlackBotToken), cfg.SlackChannelID, cfg.NotifyDecisions()).
			WithEscalationContacts(cfg.SlackEscalationContacts)
		log.Info().Str("channel", cfg.SlackChannelID).Strs("decisions", cfg.SlackNotifyDecisions).Msg("slack notifications enabled")
	}

	p, err := poller.New(poller.Options{
		Schedule:      cfg.PollSchedule,
		Limit:         cfg.PollLimit,
		Lookback:      cfg.PollLookback(),
		MaxConcurrent: cfg.MaxConcurrentRuns,
	}, sn, comps.store, comps.pipeline, notifier, log.With().Str("component", "poller").Logger())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	startMetricsServer(ctx, cfg.MetricsAddr, log)

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func startMetricsServer(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("failed to shut down metrics server cleanly")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
}
