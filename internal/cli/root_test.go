package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag to its default; cobra keeps parsed values
// on the package-level commands between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// isolate points every runtime path at a temp dir and clears settings the
// host environment might carry.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("FACTORY_DB_PATH", dir+"/factory.db")
	t.Setenv("FACTORY_STORE_DIR", dir+"/runs")
	t.Setenv("FACTORY_LOG_LEVEL", "error")
	t.Setenv("FACTORY_RULES_SOURCE", "")
	t.Setenv("FACTORY_PIPELINE_CONFIG", "")
	t.Setenv("FACTORY_LLM_PROVIDER", "")
	t.Setenv("FACTORY_LLM_API_KEY", "")
	t.Setenv("FACTORY_LLM_BASE_URL", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	return dir
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"generate", "check", "rules", "runs", "analytics",
		"serve", "config", "db", "prompts", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	cases := map[string][]string{
		"rules":     {"show", "validate", "push", "default"},
		"runs":      {"list", "show", "prompt", "delete", "stored"},
		"analytics": {"stage-duration", "gate-stats", "top-issues", "throughput"},
		"config":    {"validate", "show", "default"},
		"db":        {"migrate", "reset"},
		"prompts":   {"list", "install"},
	}
	for parent, subs := range cases {
		for _, sub := range subs {
			out, err := executeCommand(parent, sub, "--help")
			if err != nil {
				t.Errorf("%s %s --help failed: %v", parent, sub, err)
			}
			if out == "" {
				t.Errorf("%s %s --help produced no output", parent, sub)
			}
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
