package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"triagebot/internal/storage/sqlite"
)

var rcaFlags struct {
	incident string
	limit    int
	key      string
}

func newRCACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rca",
		Short: "Inspect archived root-cause analyses",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archived RCAs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runRCAList,
	}
	list.Flags().StringVar(&rcaFlags.incident, "incident", "", "Only RCAs for this incident sys_id")
	list.Flags().IntVar(&rcaFlags.limit, "limit", 50, "Maximum rows")

	show := &cobra.Command{
		Use:   "show [incident_id]",
		Short: "Print the latest RCA for an incident, or the one at --key",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRCAShow,
	}
	show.Flags().StringVar(&rcaFlags.key, "key", "", "Archive key to print instead of the latest RCA")

	cmd.AddCommand(list, show)
	return cmd
}

func openArchive() (*sqlite.Store, error) {
	cfg, _, err := loadRuntime()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.DBPath, cfg.RCAPrefix)
}

func runRCAList(cmd *cobra.Command, _ []string) error {
	store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRCAs(cmd.Context(), rcaFlags.incident, rcaFlags.limit)
	if err != nil {
		return fmt.Errorf("list rcas: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No RCAs archived.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tINCIDENT\tDECISION\tSTATUS\tRUN\tKEY")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"), r.IncidentID, r.Decision, r.Status, r.RunID, r.Key)
	}
	return w.Flush()
}

func runRCAShow(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (rcaFlags.key == "") {
		return errors.New("give exactly one of <incident_id> or --key")
	}

	store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	var rec sqlite.Record
	if rcaFlags.key != "" {
		rec, err = store.GetRCA(cmd.Context(), rcaFlags.key)
	} else {
		rec, err = store.LatestRCA(cmd.Context(), args[0])
	}
	if errors.Is(err, sqlite.ErrNotFound) {
		return errors.New("no RCA found")
	}
	if err != nil {
		return fmt.Errorf("load rca: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, rec.Document, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(rec.Document)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", rec.Key, pretty.String())
	return nil
}
