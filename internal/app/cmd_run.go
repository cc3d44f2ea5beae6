package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"triagebot/internal/domain"
	"triagebot/internal/integrations/servicenow"
)

var runFlags struct {
	incident     string
	updateTicket bool
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Triage one incident and print its disposition",
		Long: "Reads one incident JSON object (ServiceNow field names) from --incident or stdin,\n" +
			"runs it through the pipeline and prints the disposition JSON.",
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	f := cmd.Flags()
	f.StringVar(&runFlags.incident, "incident", "-", "Incident JSON file, or - for stdin")
	f.BoolVar(&runFlags.updateTicket, "update-ticket", false, "Write the outcome back to ServiceNow")
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	inc, err := readIncident(runFlags.incident, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	if runFlags.updateTicket && !cfg.ServiceNowConfigured() {
		return errors.New("--update-ticket requires servicenow_instance, servicenow_username, servicenow_password and servicenow_assignment_group")
	}

	comps, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	disp, err := comps.pipeline.Process(ctx, inc)
	if err != nil {
		return err
	}

	if runFlags.updateTicket {
		sn := servicenow.New(cfg.ServiceNowInstance, cfg.ServiceNowUsername, cfg.ServiceNowPassword, cfg.ServiceNowAssignmentGroup, nil)
		if err := sn.ApplyDisposition(context.WithoutCancel(ctx), disp); err != nil {
			log.Error().Err(err).Str("incident_id", inc.ID).Msg("ticket update failed")
		}
	}

	out, err := json.MarshalIndent(disp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode disposition: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func readIncident(path string, stdin io.Reader) (domain.Incident, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return domain.Incident{}, fmt.Errorf("read incident: %w", err)
	}

	var inc domain.Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return domain.Incident{}, fmt.Errorf("parse incident: %w", err)
	}
	if inc.ShortDescription == "" && inc.Description == "" {
		return domain.Incident{}, errors.New("incident has neither short_description nor description")
	}
	return inc, nil
}
