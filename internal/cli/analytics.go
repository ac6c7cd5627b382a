package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/postfactory/internal/analytics"
	"github.com/lucasnoah/postfactory/internal/db"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query pipeline performance analytics",
}

// withAnalyticsDB opens the event log and resolves --since.
func withAnalyticsDB(cmd *cobra.Command, fn func(d *db.DB, since string) error) error {
	since, err := parseSince(cmd)
	if err != nil {
		return err
	}
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	d, err := e.openDB()
	if err != nil {
		return err
	}
	return fn(d, since)
}

// parseSince accepts a duration ("72h") or a date ("2026-10-01") and returns
// the SQLite timestamp prefix to compare against.
func parseSince(cmd *cobra.Command) (string, error) {
	v, _ := cmd.Flags().GetString("since")
	if v == "" {
		return "", nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return time.Now().UTC().Add(-d).Format("2006-01-02 15:04:05"), nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.Format("2006-01-02 15:04:05"), nil
	}
	return "", fmt.Errorf("invalid --since %q (want a duration like 72h or a date like 2026-10-01)", v)
}

var analyticsStageDurationCmd = &cobra.Command{
	Use:   "stage-duration",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(d *db.DB, since string) error {
			rows, err := analytics.QueryStageDurations(d, since)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == "json" {
				return writeJSON(cmd, rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tCOUNT\tAVG\tP50\tP95")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%.0fms\t%.0fms\t%.0fms\n", r.Stage, r.Count, r.Avg, r.P50, r.P95)
			}
			return w.Flush()
		})
	},
}

var analyticsGateStatsCmd = &cobra.Command{
	Use:   "gate-stats",
	Short: "First-pass, after-fix and failure rates per validator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(d *db.DB, since string) error {
			rows, err := analytics.QueryGateStats(d, since)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == "json" {
				return writeJSON(cmd, rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GATE\tRUNS\tFIRST PASS\tAFTER FIX\tFAILED\tAVG ROUNDS")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%.1f\n", r.Gate, r.Runs, r.FirstPass, r.AfterFix, r.Failed, r.AvgRounds)
			}
			return w.Flush()
		})
	},
}

var analyticsTopIssuesCmd = &cobra.Command{
	Use:   "top-issues",
	Short: "Most frequently reported validator issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withAnalyticsDB(cmd, func(d *db.DB, since string) error {
			rows, err := analytics.QueryTopIssues(d, since, limit)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == "json" {
				return writeJSON(cmd, rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GATE\tISSUE\tCOUNT\tRUNS")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", r.Gate, r.Issue, r.Count, r.Runs)
			}
			return w.Flush()
		})
	},
}

var analyticsThroughputCmd = &cobra.Command{
	Use:   "throughput",
	Short: "Finished runs per day with quality and duration averages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(d *db.DB, since string) error {
			rows, err := analytics.QueryRunThroughput(d, since)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == "json" {
				return writeJSON(cmd, rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tRUNS\tSUCCEEDED\tFAILED\tQUALITY MET\tAVG DURATION\tAVG REFINE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%.1f\n", r.Period, r.Runs, r.Succeeded, r.Failed, r.QualityMet,
					formatMs(int64(r.AvgDurationMs)), r.AvgAttempts)
			}
			return w.Flush()
		})
	},
}

func init() {
	analyticsCmd.PersistentFlags().String("since", "", "only count events after this duration ago (72h) or date (2026-10-01)")
	analyticsCmd.PersistentFlags().String("format", "text", "output format: text or json")
	analyticsTopIssuesCmd.Flags().Int("limit", 10, "maximum issues to list (0 for all)")

	analyticsCmd.AddCommand(analyticsStageDurationCmd)
	analyticsCmd.AddCommand(analyticsGateStatsCmd)
	analyticsCmd.AddCommand(analyticsTopIssuesCmd)
	analyticsCmd.AddCommand(analyticsThroughputCmd)
}
