package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/postfactory/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage prompt templates",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the builtin template names",
	Run: func(cmd *cobra.Command, args []string) {
		for _, n := range prompt.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
	},
}

var promptsInstallCmd = &cobra.Command{
	Use:   "install <dir>",
	Short: "Copy the builtin templates into dir for editing",
	Long: `Write the builtin templates into dir, skipping files that already exist.
Point pipeline.prompt_dir at dir to use the edited copies.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := prompt.Install(args[0])
		for _, n := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", n)
		}
		if err != nil {
			return err
		}
		if len(written) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "All templates already present.")
		}
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsInstallCmd)
}
