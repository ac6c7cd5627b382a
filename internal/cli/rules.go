package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect, validate and publish policy rule tables",
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the rule set the configured source currently serves",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		provider, _, err := e.ruleProvider(cmd.Context(), nil)
		if err != nil {
			return err
		}
		set, err := provider.Get(cmd.Context())
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "yaml":
			data, err := yaml.Marshal(set)
			if err != nil {
				return fmt.Errorf("marshal rules: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		case "json":
			return writeJSON(cmd, set)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "source: %s  version: %s  rules: %d\n\n", provider.SourceName(), set.Version, set.Count())
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TABLE\tID\tCATEGORY\tSEVERITY\tPATTERN")
		row := func(table string, r rules.Rule) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", table, r.ID, r.Category, r.Severity, r.Pattern)
		}
		for _, r := range set.Phrases {
			row("phrases", r)
		}
		for _, r := range set.Patterns {
			row("patterns", r)
		}
		for _, r := range set.Cliches {
			row("cliches", r)
		}
		for _, st := range pipeline.ValidCampaignStages {
			sr := set.Campaign[st]
			for _, r := range sr.Forbidden {
				row(string(st)+"/forbidden", r)
			}
			for _, r := range sr.Substitutions {
				row(string(st)+"/substitution", r)
			}
		}
		return tw.Flush()
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse and compile a rule file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read rules: %w", err)
		}
		set, err := rules.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s version %s: %d rules\n", passStyle.Render("valid"), set.Version, set.Count())
		return nil
	},
}

var rulesPushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Store a rule file as a new version in the Postgres policy store",
	Long: `Validate the rule file and insert it into policy_documents under the
configured key (FACTORY_RULES_KEY). Requires FACTORY_RULES_DSN. Running
services pick the new version up when their cache expires.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read rules: %w", err)
		}

		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		dsn := e.settings.Rules.DSN
		if dsn == "" {
			return fmt.Errorf("FACTORY_RULES_DSN is not set")
		}
		pg, err := rules.OpenPostgres(cmd.Context(), dsn)
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.Migrate(cmd.Context()); err != nil {
			return err
		}
		key := e.settings.Rules.Key
		if k, _ := cmd.Flags().GetString("key"); k != "" {
			key = k
		}
		version, err := pg.Put(cmd.Context(), key, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s@%s\n", key, version)
		return nil
	},
}

var rulesDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the builtin rule table, a starting point for a custom file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), string(rules.DefaultYAML()))
	},
}

func init() {
	rulesShowCmd.Flags().String("format", "table", "output format: table, yaml or json")
	rulesPushCmd.Flags().String("key", "", "document key (default FACTORY_RULES_KEY)")

	rulesCmd.AddCommand(rulesShowCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.AddCommand(rulesPushCmd)
	rulesCmd.AddCommand(rulesDefaultCmd)
}
