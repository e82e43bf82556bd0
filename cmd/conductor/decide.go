package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"conductor/internal/domain"
)

var decideFlags struct {
	sessionID string
	agentID   string
	taskID    string
	output    string
	errField  string
}

var decideCmd = &cobra.Command{
	Use:   "decide [request text...]",
	Short: "Run one event through the engine and print the instruction",
	Long: "With positional arguments, the text is treated as a new request.\n" +
		"With --agent, the event is an agent completion report instead.",
	RunE: runDecide,
}

func init() {
	f := decideCmd.Flags()
	f.StringVar(&decideFlags.sessionID, "session", "default", "Session id scoping state")
	f.StringVar(&decideFlags.agentID, "agent", "", "Completing agent id (completion event)")
	f.StringVar(&decideFlags.taskID, "task", "", "Task id of the completed attempt")
	f.StringVar(&decideFlags.output, "output", "", "Agent output text (completion event)")
	f.StringVar(&decideFlags.errField, "error", "", "Agent error field (completion event)")
}

func runDecide(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	event := domain.Event{
		SessionID: decideFlags.sessionID,
		Timestamp: time.Now(),
	}
	switch {
	case decideFlags.agentID != "":
		event.Kind = domain.EventCompletion
		event.Completion = &domain.CompletionReport{
			AgentID: decideFlags.agentID,
			TaskID:  decideFlags.taskID,
			Output:  decideFlags.output,
			Error:   decideFlags.errField,
		}
	case len(args) > 0:
		event.Kind = domain.EventRequest
		event.Text = strings.Join(args, " ")
	default:
		return fmt.Errorf("either request text or --agent is required")
	}

	instruction := a.engine.Decide(ctx, event)

	data, err := json.MarshalIndent(instruction, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
