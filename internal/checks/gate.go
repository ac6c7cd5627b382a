// Package checks runs the compliance and SEO validators together as one
// quality gate.
package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/policy"
	"github.com/lucasnoah/postfactory/internal/seo"
)

// Gate names used in GateResult.Checks and RemainingFailures.
const (
	CheckCompliance = "compliance"
	CheckSEO        = "seo"
)

// GateCheckResult holds the result of a single check within a gate run.
type GateCheckResult struct {
	Check     string `json:"check"`
	Passed    bool   `json:"passed"`
	AutoFixed bool   `json:"auto_fixed,omitempty"`
	Issues    int    `json:"issues"`
	Summary   string `json:"summary,omitempty"`
}

// GateFailure describes a remaining failure after a gate run.
type GateFailure struct {
	Count   int    `json:"count,omitempty"`
	Summary string `json:"summary"`
}

// GateResult is the structured output of a full gate run.
type GateResult struct {
	FixRound          int                    `json:"fix_round"`
	Passed            bool                   `json:"passed"`
	Checks            []GateCheckResult      `json:"checks"`
	RemainingFailures map[string]GateFailure `json:"remaining_failures,omitempty"`

	// Article is the policy-fixed article the SEO check ran on.
	Article    pipeline.Article `json:"article"`
	Compliance policy.Result    `json:"-"`
	SEO        seo.Report       `json:"-"`
}

// JSON returns the gate result as indented JSON.
func (g *GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Issues returns compliance issues followed by SEO issues.
func (g *GateResult) Issues() []pipeline.Issue {
	out := make([]pipeline.Issue, 0, len(g.Compliance.Report.Issues)+len(g.SEO.Issues))
	out = append(out, g.Compliance.Report.Issues...)
	out = append(out, g.SEO.Issues...)
	return out
}

// GateOpts configures a gate run.
type GateOpts struct {
	Article       pipeline.Article
	Keywords      []string
	TargetLength  int
	CampaignStage pipeline.CampaignStage
	FixRound      int
}

// Gate pairs a policy validator with an SEO analyzer.
type Gate struct {
	policy *policy.Validator
	seo    *seo.Analyzer
}

// NewGate returns a gate over the given validators.
func NewGate(v *policy.Validator, a *seo.Analyzer) *Gate {
	return &Gate{policy: v, seo: a}
}

// Policy returns the gate's policy validator.
func (g *Gate) Policy() *policy.Validator { return g.policy }

// Analyzer returns the gate's SEO analyzer.
func (g *Gate) Analyzer() *seo.Analyzer { return g.seo }

// Run validates the article with policy first and SEO on the policy-fixed
// text. Both checks always run. The only error is a rule provider failure.
func (g *Gate) Run(ctx context.Context, opts GateOpts) (*GateResult, error) {
	comp, err := g.policy.Validate(ctx, opts.Article, opts.CampaignStage)
	if err != nil {
		return nil, fmt.Errorf("run check %q: %w", CheckCompliance, err)
	}
	rep := g.seo.Analyze(comp.Article, opts.Keywords, opts.TargetLength)

	gate := &GateResult{
		FixRound:          opts.FixRound,
		Passed:            comp.Report.Passed && rep.Passed,
		RemainingFailures: make(map[string]GateFailure),
		Article:           comp.Article,
		Compliance:        comp,
		SEO:               rep,
	}
	gate.Checks = []GateCheckResult{
		{
			Check:     CheckCompliance,
			Passed:    comp.Report.Passed,
			AutoFixed: len(comp.Substitutions) > 0,
			Issues:    len(comp.Report.Issues),
			Summary:   fmt.Sprintf("risk %s; %s", comp.Risk, Summarize(comp.Report.Issues)),
		},
		{
			Check:   CheckSEO,
			Passed:  rep.Passed,
			Issues:  len(rep.Issues),
			Summary: Summarize(rep.Issues),
		},
	}
	for _, c := range gate.Checks {
		if !c.Passed {
			gate.RemainingFailures[c.Check] = GateFailure{Count: c.Issues, Summary: c.Summary}
		}
	}
	return gate, nil
}

// Summarize renders an issue list as a short one-line summary.
func Summarize(issues []pipeline.Issue) string {
	if len(issues) == 0 {
		return "no issues"
	}
	ids := make([]string, 0, len(issues))
	for _, i := range issues {
		ids = append(ids, i.ID)
	}
	return fmt.Sprintf("%d issue(s): %s", len(issues), strings.Join(ids, ", "))
}
