package stage

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/policy"
	"github.com/lucasnoah/postfactory/internal/seo"
)

// ComplianceStage runs the policy validator over the current article. A
// failing verdict is still a successful stage result.
type ComplianceStage struct {
	validator *policy.Validator
}

// NewComplianceStage wraps a validator.
func NewComplianceStage(v *policy.Validator) *ComplianceStage {
	return &ComplianceStage{validator: v}
}

func (c *ComplianceStage) Name() string { return NameCompliance }

func (c *ComplianceStage) RequiredContextFields() []string { return []string{"draft"} }

func (c *ComplianceStage) Run(ctx context.Context, pc *pipeline.Context) pipeline.AgentResult {
	start := time.Now()
	res, err := c.validator.Validate(ctx, pc.Previous.Article(), pc.Profile.Stage())
	if err != nil {
		return fail(c.Name(), start, "%v", err)
	}
	return succeed(c.Name(), start, ComplianceData(res))
}

// ComplianceData converts a policy result into stage data.
func ComplianceData(res policy.Result) pipeline.ComplianceData {
	return pipeline.ComplianceData{
		Article:       res.Article,
		Report:        res.Report,
		Risk:          string(res.Risk),
		RulesVersion:  res.RulesVersion,
		Substitutions: res.Substitutions,
	}
}

// SEOStage runs the SEO analyzer over the current article.
type SEOStage struct {
	analyzer *seo.Analyzer
}

// NewSEOStage wraps an analyzer.
func NewSEOStage(a *seo.Analyzer) *SEOStage {
	return &SEOStage{analyzer: a}
}

func (s *SEOStage) Name() string { return NameSEO }

func (s *SEOStage) RequiredContextFields() []string { return []string{"draft"} }

// Run derives a meta summary from the first paragraph when the article has
// none.
func (s *SEOStage) Run(ctx context.Context, pc *pipeline.Context) pipeline.AgentResult {
	start := time.Now()
	article := pc.Previous.Article()
	if strings.TrimSpace(article.Meta) == "" {
		article.Meta = DeriveMeta(article.Content, s.analyzer.Config().Meta.Max)
	}
	rep := s.analyzer.Analyze(article, pc.Keywords(), pc.TargetLength)
	return succeed(s.Name(), start, SEOData(article, rep))
}

// SEOData converts an analyzer report into stage data.
func SEOData(article pipeline.Article, rep seo.Report) pipeline.SEOData {
	return pipeline.SEOData{
		Article:      article,
		Report:       rep.Quality(),
		KeywordStats: rep.KeywordStats,
		BodyChars:    rep.BodyChars,
	}
}

// DeriveMeta returns the first non-heading paragraph of content, whitespace
// collapsed and cut to at most max runes at a word boundary where possible.
func DeriveMeta(content string, max int) string {
	for _, block := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}
		text := strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
		if max <= 0 || utf8.RuneCountInString(text) <= max {
			return text
		}
		cut := string([]rune(text)[:max])
		if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
			cut = cut[:i]
		}
		return strings.TrimSpace(cut)
	}
	return ""
}
