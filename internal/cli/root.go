package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// configPath overrides the pipeline config search.
var configPath string

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "factory",
	Short: "Generate compliant, search-optimised campaign blog posts",
	Long: `postfactory runs configurable content pipelines: keyword extraction, drafting,
titling, election-law compliance and SEO validation, with bounded LLM refinement
when a validator fails.

Runtime settings come from FACTORY_* environment variables (a .env file is read
at startup). Run history is stored in ~/.factory/ (SQLite for events, JSON for
finished outcomes).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to pipeline config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(promptsCmd)
}
