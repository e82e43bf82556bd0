package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var decisionsFlags struct {
	sessionID string
	limit     int
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show the decision audit log for a session",
	RunE:  runDecisions,
}

func init() {
	f := decisionsCmd.Flags()
	f.StringVar(&decisionsFlags.sessionID, "session", "default", "Session id")
	f.IntVar(&decisionsFlags.limit, "limit", 20, "Maximum records to show")
}

func runDecisions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	records, err := a.store.Decisions(ctx, decisionsFlags.sessionID, decisionsFlags.limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintf(out, "No decisions recorded for session %q.\n", decisionsFlags.sessionID)
		return nil
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s  %-18s", rec.CreatedAt.Local().Format(time.DateTime), rec.Kind)
		if rec.AgentID != "" {
			line += fmt.Sprintf("  agent=%s", rec.AgentID)
		}
		if rec.Confidence > 0 {
			line += fmt.Sprintf("  confidence=%d", rec.Confidence)
		}
		if rec.Rationale != "" {
			line += fmt.Sprintf("  (%s)", rec.Rationale)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
