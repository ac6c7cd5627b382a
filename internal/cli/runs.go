package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/postfactory/internal/db"
	"github.com/lucasnoah/postfactory/internal/pipeline"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect finished pipeline runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		d, err := e.openDB()
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := d.RecentRuns(limit)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tQUALITY\tREFINE\tRISK\tCHARS\tDURATION\tTOPIC")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
				shortID(r.ID), r.Pipeline, r.Status, yesNo(r.QualityMet), r.RefinementAttempts,
				r.ComplianceRisk, r.WordCount, formatMs(r.DurationMs), truncate(r.Topic, 40))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run: stages, gate verdicts and the stored outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		d, err := e.openDB()
		if err != nil {
			return err
		}
		store, err := e.openStore()
		if err != nil {
			return err
		}

		run, err := d.GetRun(id)
		if err != nil {
			return err
		}
		rec, recErr := store.Get(id)
		if run == nil && recErr != nil {
			return fmt.Errorf("run %s not found", id)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			stages, _ := d.StageRuns(id)
			gates, _ := d.GateRuns(id)
			return writeJSON(cmd, map[string]interface{}{
				"run":    run,
				"stages": stages,
				"gates":  gates,
				"record": rec,
			})
		}

		w := cmd.OutOrStdout()
		if run != nil {
			if err := printRunEvents(cmd, d, run); err != nil {
				return err
			}
		}
		if recErr == nil && rec.Outcome != nil {
			fmt.Fprintln(w)
			printOutcome(w, rec.Outcome)
		}
		return nil
	},
}

func printRunEvents(cmd *cobra.Command, d *db.DB, run *db.Run) error {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, headerStyle.Render("run "+run.ID))
	fmt.Fprintf(w, "pipeline: %s  status: %s  topic: %s\n", run.Pipeline, run.Status, run.Topic)
	if run.Region != "" || run.CampaignStage != "" {
		fmt.Fprintf(w, "region: %s  campaign stage: %s\n", run.Region, run.CampaignStage)
	}
	if len(run.Keywords) > 0 {
		fmt.Fprintf(w, "keywords: %s\n", strings.Join(run.Keywords, ", "))
	}
	fmt.Fprintf(w, "started: %s  finished: %s\n", run.StartedAt, run.FinishedAt)
	if run.Error != "" {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("error:"), run.Error)
	}

	stages, err := d.StageRuns(run.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s\n", sectionStyle.Render("stages"))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tSTAGE\tRESULT\tDURATION\tERROR")
	for _, s := range stages {
		result := verdict(s.Success)
		if s.Skipped {
			result = dimStyle.Render("SKIP")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Slot, s.Stage, result, formatMs(s.DurationMs), truncate(s.Error, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	gates, err := d.GateRuns(run.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s\n", sectionStyle.Render("gates"))
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GATE\tPHASE\tROUND\tRESULT\tRISK\tISSUES")
	for _, g := range gates {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", g.Gate, g.Phase, g.FixRound, verdict(g.Passed), g.Risk, truncate(strings.Join(g.IssueIDs, ","), 60))
	}
	return tw.Flush()
}

var runsPromptCmd = &cobra.Command{
	Use:   "prompt <run-id> <stage> [attempt]",
	Short: "Print a rendered prompt saved for a run",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		attempt := 0
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid attempt %q: %w", args[2], err)
			}
			attempt = n
		}
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		store, err := e.openStore()
		if err != nil {
			return err
		}
		text, err := store.GetPrompt(args[0], args[1], attempt)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete the stored artifacts of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		store, err := e.openStore()
		if err != nil {
			return err
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var runsStoredCmd = &cobra.Command{
	Use:   "stored",
	Short: "List runs with stored outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		store, err := e.openStore()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := store.List(limit)
		if err != nil {
			return err
		}
		return printStored(cmd, recs)
	},
}

func printStored(cmd *cobra.Command, recs []pipeline.RunRecord) error {
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stored runs.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tQUALITY\tTITLE")
	for _, r := range recs {
		quality, title := "-", ""
		if r.Outcome != nil {
			quality = yesNo(r.Outcome.Metadata.QualityThresholdMet)
			title = r.Outcome.Title
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.CreatedAt, quality, truncate(title, 40))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatMs(ms int64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dms", ms)
}

// truncate cuts s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum runs to list")
	runsListCmd.Flags().String("format", "text", "output format: text or json")
	runsShowCmd.Flags().String("format", "text", "output format: text or json")
	runsStoredCmd.Flags().Int("limit", 20, "maximum runs to list (0 for all)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPromptCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsStoredCmd)
}
