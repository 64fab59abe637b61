package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-relay/internal/capability"
	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for consistency",
	Long: `Loads the configuration, builds every provider and pipeline and reports
the first problem found.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")

		catalog, err := validateConfig(path)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, p := range catalog.All() {
			fmt.Fprintf(out, "%s: %s -> %s (%d stages)\n", p.Name(), p.Input(), p.Output(), p.Len())
		}
		fmt.Fprintln(out, "Configuration is valid")
		return nil
	},
}

func validateConfig(path string) (*pipeline.Catalog, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	set, err := capability.NewRegistry().CreateAll(cfg.Providers)
	if err != nil {
		return nil, err
	}
	return pipeline.CatalogFromConfig(cfg, set.Resolver)
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
