package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/postfactory/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect pipeline configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipeline configuration and runtime settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		var problems []string
		s, err := config.LoadSettings()
		if err != nil {
			problems = append(problems, "settings: "+err.Error())
		}
		cfg, path, err := loadPipelineConfig(s)
		if err != nil {
			return err
		}
		for _, e := range config.Validate(cfg, builtinStages) {
			problems = append(problems, e.Error())
		}

		source := path
		if source == "" {
			source = "builtin"
		}
		if len(problems) == 0 {
			cmd.Printf("Configuration is valid (%s).\n", source)
			return nil
		}

		cmd.Printf("Validation errors (%s):\n", source)
		for _, p := range problems {
			cmd.Printf("  - %s\n", p)
		}
		return fmt.Errorf("config has %d validation error(s)", len(problems))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadSettings()
		if err != nil {
			return err
		}
		if showSettings, _ := cmd.Flags().GetBool("settings"); showSettings {
			// Secrets carry json:"-".
			return writeJSON(cmd, s)
		}

		cfg, _, err := loadPipelineConfig(s)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the builtin pipeline configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), string(config.DefaultYAML()))
	},
}

func init() {
	configShowCmd.Flags().Bool("settings", false, "show runtime settings instead of the pipeline config")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configDefaultCmd)
}
