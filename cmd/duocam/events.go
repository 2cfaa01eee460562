package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ayusman/duocam/internal/telemetry"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent runs and session transitions from telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runEvents(limit)
	},
}

func init() {
	eventsCmd.Flags().Int("limit", 20, "number of transitions to show")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(limit int) error {
	st, err := telemetry.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open telemetry store: %w", err)
	}
	defer st.Close()

	runs, err := st.Runs().List(5)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tENDED\tERRORS")
	fmt.Fprintln(w, "---\t-------\t-----\t------")
	for _, r := range runs {
		ended := "running"
		if r.EndedAt != nil {
			ended = r.EndedAt.Local().Format("2006-01-02 15:04:05")
		}
		n, err := st.DetectionErrors().Count(r.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), ended, n)
	}
	w.Flush()
	fmt.Println()

	events, err := st.Events().Recent(limit)
	if err != nil {
		return err
	}

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "AT\tFROM\tTO\tREASON")
	fmt.Fprintln(w, "--\t----\t--\t------")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.At.Local().Format("15:04:05.000"), e.From, e.To, e.Reason)
	}
	return w.Flush()
}
