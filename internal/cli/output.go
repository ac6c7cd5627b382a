package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/postfactory/internal/pipeline"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func verdict(passed bool) string {
	if passed {
		return passStyle.Render("PASS")
	}
	return failStyle.Render("FAIL")
}

func severityStyle(s pipeline.Severity) lipgloss.Style {
	switch s {
	case pipeline.SeverityCritical, pipeline.SeverityHigh:
		return failStyle
	case pipeline.SeverityMedium:
		return warnStyle
	default:
		return dimStyle
	}
}

func printIssues(w io.Writer, issues []pipeline.Issue) {
	for _, is := range issues {
		sev := severityStyle(is.Severity).Render(fmt.Sprintf("%-8s", is.Severity))
		fmt.Fprintf(w, "  %s %s  %s\n", sev, is.ID, is.Message)
		if is.Instruction != "" {
			fmt.Fprintf(w, "           %s\n", dimStyle.Render("→ "+is.Instruction))
		}
	}
}

func printKeywordStats(w io.Writer, stats []pipeline.KeywordStat) {
	for _, ks := range stats {
		style := passStyle
		switch ks.Status {
		case pipeline.KeywordTooLow, pipeline.KeywordTooHigh:
			style = failStyle
		case pipeline.KeywordAcceptable:
			style = warnStyle
		}
		fmt.Fprintf(w, "  %-20s %3d  %s\n", ks.Keyword, ks.Count, style.Render(string(ks.Status)))
	}
}

// printOutcome renders a finished run for a terminal.
func printOutcome(w io.Writer, out *pipeline.Outcome) {
	m := out.Metadata
	fmt.Fprintln(w, headerStyle.Render("run "+out.RunID))
	fmt.Fprintf(w, "pipeline: %s  chars: %d  refinement attempts: %d  duration: %dms\n",
		m.Pipeline, out.WordCount, m.RefinementAttempts, m.TotalDurationMs)
	fmt.Fprintf(w, "quality threshold: %s\n", verdict(m.QualityThresholdMet))
	if m.DeadlineExceeded {
		fmt.Fprintln(w, warnStyle.Render("budget exceeded: remaining stages were skipped"))
	}
	if m.Error != "" {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("error:"), m.Error)
	}
	for slot, reason := range m.DegradedStages {
		fmt.Fprintf(w, "%s %s: %s\n", warnStyle.Render("degraded"), slot, reason)
	}

	fmt.Fprintf(w, "\n%s %s (risk %s)\n", sectionStyle.Render("compliance"), verdict(m.CompliancePassed), m.ComplianceRisk)
	printIssues(w, m.ComplianceIssues)
	for _, s := range m.Substitutions {
		fmt.Fprintf(w, "  %s %q → %q ×%d (%s)\n", dimStyle.Render("fixed"), s.From, s.To, s.Count, s.Field)
	}
	fmt.Fprintf(w, "%s %s\n", sectionStyle.Render("seo"), verdict(m.SEOPassed))
	printIssues(w, m.SEOIssues)
	printKeywordStats(w, m.KeywordStats)

	if out.Title == "" && out.Content == "" {
		return
	}
	fmt.Fprintf(w, "\n%s\n", sectionStyle.Render(out.Title))
	if out.Meta != "" {
		fmt.Fprintln(w, dimStyle.Render(out.Meta))
	}
	fmt.Fprintf(w, "\n%s\n", out.Content)
}
