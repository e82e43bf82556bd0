package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Decision engine for routing work across specialized agents",
	Long: "Conductor scores incoming requests against an agent and skill catalog,\n" +
		"decides whether to dispatch, recommend, or inject context, and tracks\n" +
		"retries, pipelines, and failure cascades across agent completions.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "Path to YAML config file")

	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(pipelinesCmd)
	rootCmd.AddCommand(decisionsCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
