// Package policy checks articles against the election-law rule tables,
// applies mechanical substitutions, and scores the remaining risk.
package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/rules"
)

// Risk is the aggregated policy risk of an article.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// highRiskIssueCount is the issue count at which risk becomes HIGH even
// without a critical finding.
const highRiskIssueCount = 3

// AssessRisk scores a set of issues. The article passes unless risk is HIGH.
func AssessRisk(issues []pipeline.Issue) (Risk, bool) {
	critical := false
	for _, i := range issues {
		if i.Severity == pipeline.SeverityCritical {
			critical = true
			break
		}
	}
	switch {
	case critical || len(issues) >= highRiskIssueCount:
		return RiskHigh, false
	case len(issues) > 0:
		return RiskMedium, true
	default:
		return RiskLow, true
	}
}

// Result is the outcome of one validation pass.
type Result struct {
	Article       pipeline.Article
	Report        pipeline.QualityReport
	Risk          Risk
	RulesVersion  string
	Substitutions []pipeline.Substitution
}

// Check validates article against set for a campaign stage. It never errors;
// a failing article is a Result with Report.Passed false.
func Check(set *rules.Set, article pipeline.Article, stage pipeline.CampaignStage) Result {
	subs := set.Substitutions(stage)
	content, contentApplied := rules.Apply(article.Content, subs)
	title, titleApplied := rules.Apply(article.Title, subs)

	var substitutions []pipeline.Substitution
	substitutions = appendSubstitutions(substitutions, contentApplied, "content")
	substitutions = appendSubstitutions(substitutions, titleApplied, "title")

	scanRules := set.ScanRules(stage)
	var issues []pipeline.Issue
	for _, m := range rules.Scan(content, scanRules, set.CitationMarkers) {
		issues = appendIssues(issues, m, "")
	}
	for _, m := range rules.Scan(title, scanRules, set.CitationMarkers) {
		issues = appendIssues(issues, m, "_title")
	}

	risk, passed := AssessRisk(issues)
	return Result{
		Article:       pipeline.Article{Content: content, Title: title, Meta: article.Meta},
		Report:        pipeline.QualityReport{Passed: passed, Issues: issues},
		Risk:          risk,
		RulesVersion:  set.Version,
		Substitutions: substitutions,
	}
}

func appendSubstitutions(dst []pipeline.Substitution, applied []rules.Applied, field string) []pipeline.Substitution {
	for _, a := range applied {
		dst = append(dst, pipeline.Substitution{
			RuleID: a.Rule.ID,
			From:   a.From,
			To:     a.To,
			Count:  a.Count,
			Field:  field,
		})
	}
	return dst
}

// appendIssues adds one issue per occurrence of m, so repeated hits count
// towards the risk threshold individually.
func appendIssues(dst []pipeline.Issue, m rules.Match, suffix string) []pipeline.Issue {
	where := "content"
	if suffix != "" {
		where = "title"
	}
	for i, occ := range m.Occurrences {
		instruction := m.Rule.Instruction
		if instruction == "" {
			instruction = fmt.Sprintf("Remove or rephrase %q.", occ)
		}
		dst = append(dst, pipeline.Issue{
			ID:          m.Rule.ID + suffix,
			Severity:    m.Rule.Severity,
			Category:    pipeline.CategoryLegal,
			Message:     fmt.Sprintf("%s rule %s matched in %s (%d of %d): %q", m.Rule.Category, m.Rule.ID, where, i+1, m.Count(), occ),
			Instruction: instruction,
		})
	}
	return dst
}

// Validator resolves the current rule set and runs Check.
type Validator struct {
	rules  rules.Provider
	logger *zap.Logger
}

// NewValidator returns a validator reading rules from p.
func NewValidator(p rules.Provider, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{rules: p, logger: logger}
}

// Validate checks article for the given campaign stage. The only error is a
// rule provider failure, which under fail-closed is a *rules.UnavailableError.
func (v *Validator) Validate(ctx context.Context, article pipeline.Article, stage pipeline.CampaignStage) (Result, error) {
	set, err := v.rules.Get(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading policy rules: %w", err)
	}
	res := Check(set, article, stage)
	v.logger.Debug("policy check",
		zap.String("rules_version", res.RulesVersion),
		zap.String("campaign_stage", string(stage)),
		zap.String("risk", string(res.Risk)),
		zap.Int("issues", len(res.Report.Issues)),
		zap.Int("substitutions", len(res.Substitutions)))
	return res, nil
}
