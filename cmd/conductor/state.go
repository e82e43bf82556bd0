package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"conductor/internal/domain"
)

var stateFlags struct {
	sessionID string
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the persisted state for a session",
	RunE:  runState,
}

func init() {
	stateCmd.Flags().StringVar(&stateFlags.sessionID, "session", "default", "Session id")
}

func runState(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	out := cmd.OutOrStdout()

	session, err := a.files.GetSession(ctx, stateFlags.sessionID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Fprintf(out, "No session state for %q.\n", stateFlags.sessionID)
	case err != nil:
		return err
	default:
		data, err := json.MarshalIndent(session, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	}

	exec, err := a.files.GetExecution(ctx, stateFlags.sessionID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Fprintln(out, "No pipeline execution.")
	case err != nil:
		return err
	default:
		data, err := json.MarshalIndent(exec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	}
	return nil
}
