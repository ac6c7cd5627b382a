package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/postfactory/internal/checks"
	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/policy"
	"github.com/lucasnoah/postfactory/internal/prompt"
	"github.com/lucasnoah/postfactory/internal/rules"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Run the compliance and SEO validators on a markdown post",
	Long: `Validate an existing post without calling a model. The file may start with
TITLE: and META: lines (the writer's output format) or with a "# " heading,
which is taken as the title.

Campaign substitutions are applied before scanning; the fixed text is printed
with --fixed. The command exits non-zero when either validator fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read post: %w", err)
		}
		article := parseArticle(string(data))
		flags := cmd.Flags()
		if flags.Changed("title") {
			article.Title, _ = flags.GetString("title")
		}
		if flags.Changed("meta") {
			article.Meta, _ = flags.GetString("meta")
		}
		keywords, _ := flags.GetStringSlice("keywords")
		target, _ := flags.GetInt("target")
		stageName, _ := flags.GetString("stage")
		if stageName != "" && !pipeline.IsValidCampaignStage(stageName) {
			return fmt.Errorf("unknown campaign stage %q", stageName)
		}
		profile := pipeline.UserProfile{CampaignStage: pipeline.CampaignStage(stageName)}

		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		var provider rules.Provider
		if path, _ := flags.GetString("rules"); path != "" {
			provider = rules.NewCachedProvider(rules.NewFileSource(path, e.logger), rules.WithFailMode(rules.FailClosed))
		} else if provider, _, err = e.ruleProvider(cmd.Context(), nil); err != nil {
			return err
		}

		gate := checks.NewGate(policy.NewValidator(provider, e.logger), e.analyzer())
		res, err := gate.Run(cmd.Context(), checks.GateOpts{
			Article:       article,
			Keywords:      cleanKeywords(keywords),
			TargetLength:  target,
			CampaignStage: profile.Stage(),
		})
		if err != nil {
			return err
		}

		format, _ := flags.GetString("format")
		if format == "json" {
			if err := writeJSON(cmd, checkReport(res)); err != nil {
				return err
			}
		} else {
			fixed, _ := flags.GetBool("fixed")
			printGate(cmd, res, fixed)
		}
		if !res.Passed {
			return fmt.Errorf("%d check(s) failed", len(res.RemainingFailures))
		}
		return nil
	},
}

// parseArticle reads the writer output format, falling back to a leading
// "# " heading for the title.
func parseArticle(text string) pipeline.Article {
	out := prompt.ParseOutput(text)
	a := pipeline.Article{Title: out.Title, Meta: out.Meta, Content: out.Body}
	if a.Title != "" {
		return a
	}
	first, rest, _ := strings.Cut(a.Content, "\n")
	if t, ok := strings.CutPrefix(strings.TrimSpace(first), "# "); ok {
		a.Title = strings.TrimSpace(t)
		a.Content = strings.TrimSpace(rest)
	}
	return a
}

func cleanKeywords(kws []string) []string {
	var out []string
	for _, kw := range kws {
		if kw = strings.Join(strings.Fields(kw), " "); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

type checkJSON struct {
	Passed        bool                    `json:"passed"`
	Gate          *checks.GateResult      `json:"gate"`
	Risk          policy.Risk             `json:"compliance_risk"`
	RulesVersion  string                  `json:"rules_version"`
	Compliance    []pipeline.Issue        `json:"compliance_issues"`
	Substitutions []pipeline.Substitution `json:"substitutions,omitempty"`
	SEO           []pipeline.Issue        `json:"seo_issues"`
	KeywordStats  []pipeline.KeywordStat  `json:"keyword_stats"`
	BodyChars     int                     `json:"body_chars"`
}

func checkReport(res *checks.GateResult) checkJSON {
	return checkJSON{
		Passed:        res.Passed,
		Gate:          res,
		Risk:          res.Compliance.Risk,
		RulesVersion:  res.Compliance.RulesVersion,
		Compliance:    res.Compliance.Report.Issues,
		Substitutions: res.Compliance.Substitutions,
		SEO:           res.SEO.Issues,
		KeywordStats:  res.SEO.KeywordStats,
		BodyChars:     res.SEO.BodyChars,
	}
}

func printGate(cmd *cobra.Command, res *checks.GateResult, showFixed bool) {
	w := cmd.OutOrStdout()
	comp, rep := res.Compliance, res.SEO

	fmt.Fprintf(w, "%s %s  risk %s  rules %s\n", sectionStyle.Render("compliance"), verdict(comp.Report.Passed), comp.Risk, comp.RulesVersion)
	printIssues(w, comp.Report.Issues)
	for _, s := range comp.Substitutions {
		fmt.Fprintf(w, "  %s %q → %q ×%d (%s)\n", dimStyle.Render("fixed"), s.From, s.To, s.Count, s.Field)
	}

	fmt.Fprintf(w, "%s %s  body %d chars (band %d–%d)  headings ##%d ###%d  paragraphs %d\n",
		sectionStyle.Render("seo"), verdict(rep.Passed), rep.BodyChars, rep.BodyBand.Min, rep.BodyBand.Max,
		rep.Structure.H2, rep.Structure.H3, rep.Structure.Paragraphs)
	printIssues(w, rep.Issues)
	printKeywordStats(w, rep.KeywordStats)

	if showFixed && len(comp.Substitutions) > 0 {
		fmt.Fprintf(w, "\n%s\n%s\n\n%s\n", sectionStyle.Render("fixed text"), res.Article.Title, res.Article.Content)
	}
}

func init() {
	f := checkCmd.Flags()
	f.StringSlice("keywords", nil, "required keywords, primary first (comma separated)")
	f.Int("target", 0, "target body length in characters")
	f.String("stage", "", "campaign stage: "+strings.Join(campaignStageNames(), ", "))
	f.String("title", "", "override the title")
	f.String("meta", "", "override the meta description")
	f.String("rules", "", "validate against this rule file instead of the configured source")
	f.String("format", "text", "output format: text or json")
	f.Bool("fixed", false, "print the text after campaign substitutions")
}
