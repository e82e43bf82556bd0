package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conductor/internal/domain"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the loaded agent and skill catalog",
	RunE:  runCatalog,
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	out := cmd.OutOrStdout()
	printEntries := func(title string, entries []domain.CatalogEntry) {
		fmt.Fprintf(out, "%s (%d):\n", title, len(entries))
		for _, e := range entries {
			fmt.Fprintf(out, "  %-30s triggers=[%s] tags=[%s]\n",
				e.ID, strings.Join(e.TriggerTerms, ", "), strings.Join(e.Tags, ", "))
		}
	}
	printEntries("Agents", a.catalog.Agents())
	printEntries("Skills", a.catalog.Skills())
	return nil
}
