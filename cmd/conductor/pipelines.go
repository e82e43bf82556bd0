package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List the loaded pipeline definitions",
	RunE:  runPipelines,
}

func runPipelines(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	out := cmd.OutOrStdout()
	defs := a.loader.Definitions()
	if len(defs) == 0 {
		fmt.Fprintln(out, "No pipeline definitions loaded.")
		return nil
	}
	for _, def := range defs {
		fmt.Fprintf(out, "%s: %s\n", def.Type, def.Description)
		fmt.Fprintf(out, "  triggers: %s\n", strings.Join(def.TriggerPhrases, " | "))
		for i, step := range def.Steps {
			deps := "none"
			if len(step.DependsOn) > 0 {
				parts := make([]string, len(step.DependsOn))
				for j, d := range step.DependsOn {
					parts[j] = fmt.Sprintf("%d", d)
				}
				deps = strings.Join(parts, ",")
			}
			fmt.Fprintf(out, "  step %d: %s (depends on: %s)\n", i, step.AgentID, deps)
		}
	}
	return nil
}
