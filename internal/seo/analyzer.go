// Package seo measures an article against the search-ranking rules: title and
// meta bands, body length, required-keyword frequency, keyword dilution and
// markdown structure.
package seo

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/postfactory/internal/pipeline"
)

// Band is an inclusive integer range.
type Band struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether n lies within the band.
func (b Band) Contains(n int) bool { return n >= b.Min && n <= b.Max }

func (b Band) valid() bool { return b.Min >= 0 && b.Max >= b.Min }

// Config holds every SEO threshold. Zero fields take the defaults.
type Config struct {
	Title             Band    `yaml:"title" json:"title"`
	Meta              Band    `yaml:"meta" json:"meta"`
	BodyFloor         int     `yaml:"body_floor" json:"body_floor"`
	BodyCeiling       int     `yaml:"body_ceiling" json:"body_ceiling"`
	BodySpan          int     `yaml:"body_span" json:"body_span"`
	MultiKeywordBand  Band    `yaml:"multi_keyword_band" json:"multi_keyword_band"`
	SingleKeywordBand Band    `yaml:"single_keyword_band" json:"single_keyword_band"`
	OptimalDensity    float64 `yaml:"optimal_density" json:"optimal_density"`
	DilutionMinCount  int     `yaml:"dilution_min_count" json:"dilution_min_count"`
	DilutionTop       int     `yaml:"dilution_top" json:"dilution_top"`
	MinH2             int     `yaml:"min_h2" json:"min_h2"`
	MinH3             int     `yaml:"min_h3" json:"min_h3"`
	Paragraphs        Band    `yaml:"paragraphs" json:"paragraphs"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Title:             Band{Min: 18, Max: 25},
		Meta:              Band{Min: 40, Max: 160},
		BodyFloor:         1500,
		BodyCeiling:       3000,
		BodySpan:          500,
		MultiKeywordBand:  Band{Min: 3, Max: 4},
		SingleKeywordBand: Band{Min: 5, Max: 6},
		OptimalDensity:    0.025,
		DilutionMinCount:  3,
		DilutionTop:       3,
		MinH2:             1,
		MinH3:             2,
		Paragraphs:        Band{Min: 5, Max: 10},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Title == (Band{}) {
		c.Title = d.Title
	}
	if c.Meta == (Band{}) {
		c.Meta = d.Meta
	}
	if c.BodyFloor == 0 {
		c.BodyFloor = d.BodyFloor
	}
	if c.BodyCeiling == 0 {
		c.BodyCeiling = d.BodyCeiling
	}
	if c.BodySpan == 0 {
		c.BodySpan = d.BodySpan
	}
	if c.MultiKeywordBand == (Band{}) {
		c.MultiKeywordBand = d.MultiKeywordBand
	}
	if c.SingleKeywordBand == (Band{}) {
		c.SingleKeywordBand = d.SingleKeywordBand
	}
	if c.OptimalDensity == 0 {
		c.OptimalDensity = d.OptimalDensity
	}
	if c.DilutionMinCount == 0 {
		c.DilutionMinCount = d.DilutionMinCount
	}
	if c.DilutionTop == 0 {
		c.DilutionTop = d.DilutionTop
	}
	if c.MinH2 == 0 {
		c.MinH2 = d.MinH2
	}
	if c.MinH3 == 0 {
		c.MinH3 = d.MinH3
	}
	if c.Paragraphs == (Band{}) {
		c.Paragraphs = d.Paragraphs
	}
	return c
}

// Validate returns one message per inconsistent threshold.
func (c Config) Validate() []string {
	var errs []string
	check := func(name string, b Band) {
		if !b.valid() {
			errs = append(errs, fmt.Sprintf("seo.%s: min %d must be >= 0 and <= max %d", name, b.Min, b.Max))
		}
	}
	check("title", c.Title)
	check("meta", c.Meta)
	check("multi_keyword_band", c.MultiKeywordBand)
	check("single_keyword_band", c.SingleKeywordBand)
	check("paragraphs", c.Paragraphs)
	if c.BodyCeiling < c.BodyFloor {
		errs = append(errs, fmt.Sprintf("seo.body_ceiling %d is below body_floor %d", c.BodyCeiling, c.BodyFloor))
	}
	if c.OptimalDensity <= 0 || c.OptimalDensity >= 1 {
		errs = append(errs, fmt.Sprintf("seo.optimal_density %v must be between 0 and 1", c.OptimalDensity))
	}
	return errs
}

// Report is the SEO verdict for one article.
type Report struct {
	Passed       bool                   `json:"passed"`
	Issues       []pipeline.Issue       `json:"issues"`
	KeywordStats []pipeline.KeywordStat `json:"keyword_stats"`
	Competitors  []Competitor           `json:"competitors,omitempty"`
	BodyChars    int                    `json:"body_chars"`
	BodyBand     Band                   `json:"body_band"`
	Structure    Structure              `json:"structure"`
}

// Quality returns the report as a generic QualityReport.
func (r Report) Quality() pipeline.QualityReport {
	return pipeline.QualityReport{Passed: r.Passed, Issues: r.Issues}
}

// Analyzer applies a Config. It holds no mutable state.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer returns an analyzer using cfg with defaults filled in.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg.WithDefaults()}
}

// Config returns the effective thresholds.
func (a *Analyzer) Config() Config { return a.cfg }

// BodyBand returns the accepted body length for a requested target length.
func (a *Analyzer) BodyBand(target int) Band {
	lo := max(a.cfg.BodyFloor, target)
	hi := max(a.cfg.BodyCeiling, lo+a.cfg.BodySpan)
	return Band{Min: lo, Max: hi}
}

// KeywordBand returns the accepted per-keyword count for n required keywords.
func (a *Analyzer) KeywordBand(n int) Band {
	if n >= 2 {
		return a.cfg.MultiKeywordBand
	}
	return a.cfg.SingleKeywordBand
}

// Analyze checks article against keywords (the first is primary) and the
// requested target length. Passed is true only when there are no issues.
func (a *Analyzer) Analyze(article pipeline.Article, keywords []string, target int) Report {
	keywords = cleanKeywords(keywords)
	primary := ""
	if len(keywords) > 0 {
		primary = keywords[0]
	}

	var issues []pipeline.Issue
	issues = append(issues, a.checkTitle(article.Title, primary)...)
	issues = append(issues, a.checkMeta(article.Meta)...)

	bodyChars := pipeline.CountChars(article.Content)
	band := a.BodyBand(target)
	issues = append(issues, checkBody(bodyChars, band)...)

	stats, kwIssues := a.checkKeywords(article.Content, keywords, bodyChars)
	issues = append(issues, kwIssues...)

	var competitors []Competitor
	if primary != "" {
		primaryCount := stats[0].Count
		competitors = FindCompetitors(article.Content, keywords, primaryCount, a.cfg.DilutionMinCount, a.cfg.DilutionTop)
		for _, c := range competitors {
			issues = append(issues, competitorIssue(c, primary, primaryCount))
		}
	}

	st := AnalyzeStructure(article.Content)
	issues = append(issues, a.checkStructure(st)...)

	return Report{
		Passed:       len(issues) == 0,
		Issues:       issues,
		KeywordStats: stats,
		Competitors:  competitors,
		BodyChars:    bodyChars,
		BodyBand:     band,
		Structure:    st,
	}
}

func (a *Analyzer) checkTitle(title, primary string) []pipeline.Issue {
	var issues []pipeline.Issue
	n := utf8.RuneCountInString(strings.TrimSpace(title))
	if !a.cfg.Title.Contains(n) {
		issues = append(issues, pipeline.Issue{
			ID:          "title_length",
			Severity:    pipeline.SeverityCritical,
			Category:    pipeline.CategoryTitle,
			Message:     fmt.Sprintf("title is %d characters, want %d-%d", n, a.cfg.Title.Min, a.cfg.Title.Max),
			Instruction: fmt.Sprintf("Rewrite the title to between %d and %d characters.", a.cfg.Title.Min, a.cfg.Title.Max),
		})
	}
	if primary != "" && !strings.Contains(normalize(title), normalize(primary)) {
		issues = append(issues, pipeline.Issue{
			ID:          "title_keyword",
			Severity:    pipeline.SeverityCritical,
			Category:    pipeline.CategoryTitle,
			Message:     fmt.Sprintf("title does not contain the primary keyword %q", primary),
			Instruction: fmt.Sprintf("Include %q verbatim in the title.", primary),
		})
	}
	return issues
}

func (a *Analyzer) checkMeta(meta string) []pipeline.Issue {
	meta = strings.TrimSpace(meta)
	if meta == "" {
		return nil
	}
	n := utf8.RuneCountInString(meta)
	if a.cfg.Meta.Contains(n) {
		return nil
	}
	return []pipeline.Issue{{
		ID:          "meta_length",
		Severity:    pipeline.SeverityMedium,
		Category:    pipeline.CategorySEO,
		Message:     fmt.Sprintf("meta description is %d characters, want %d-%d", n, a.cfg.Meta.Min, a.cfg.Meta.Max),
		Instruction: fmt.Sprintf("Rewrite the META summary to between %d and %d characters.", a.cfg.Meta.Min, a.cfg.Meta.Max),
	}}
}

func checkBody(n int, band Band) []pipeline.Issue {
	switch {
	case n < band.Min:
		return []pipeline.Issue{{
			ID:          "body_too_short",
			Severity:    pipeline.SeverityHigh,
			Category:    pipeline.CategorySEO,
			Message:     fmt.Sprintf("body has %d characters, want at least %d", n, band.Min),
			Instruction: fmt.Sprintf("Expand the body by about %d characters with concrete detail.", band.Min-n),
		}}
	case n > band.Max:
		return []pipeline.Issue{{
			ID:          "body_too_long",
			Severity:    pipeline.SeverityHigh,
			Category:    pipeline.CategorySEO,
			Message:     fmt.Sprintf("body has %d characters, want at most %d", n, band.Max),
			Instruction: fmt.Sprintf("Shorten the body by about %d characters.", n-band.Max),
		}}
	}
	return nil
}

func (a *Analyzer) checkKeywords(content string, keywords []string, bodyChars int) ([]pipeline.KeywordStat, []pipeline.Issue) {
	if len(keywords) == 0 {
		return nil, nil
	}
	band := a.KeywordBand(len(keywords))
	norm := normalize(content)
	stats := make([]pipeline.KeywordStat, 0, len(keywords))
	var issues []pipeline.Issue
	for i, kw := range keywords {
		count := countNormalized(norm, normalize(kw))
		status := a.classify(count, kw, bodyChars, band)
		stats = append(stats, pipeline.KeywordStat{Keyword: kw, Count: count, Status: status})

		sev := pipeline.SeverityHigh
		if i == 0 {
			sev = pipeline.SeverityCritical
		}
		switch status {
		case pipeline.KeywordTooLow:
			issues = append(issues, pipeline.Issue{
				ID:          "keyword_too_low:" + kw,
				Severity:    sev,
				Category:    pipeline.CategorySEO,
				Message:     fmt.Sprintf("keyword %q appears %d times, want %d-%d", kw, count, band.Min, band.Max),
				Instruction: fmt.Sprintf("Use %q verbatim %d more time(s) in natural sentences.", kw, band.Min-count),
			})
		case pipeline.KeywordTooHigh:
			issues = append(issues, pipeline.Issue{
				ID:          "keyword_too_high:" + kw,
				Severity:    sev,
				Category:    pipeline.CategoryRepetition,
				Message:     fmt.Sprintf("keyword %q appears %d times, want %d-%d", kw, count, band.Min, band.Max),
				Instruction: fmt.Sprintf("Replace %d occurrence(s) of %q with a pronoun or synonym.", count-band.Max, kw),
			})
		}
	}
	return stats, issues
}

// classify turns a count into a status. Within the band, low density is
// optimal and anything denser is merely acceptable.
func (a *Analyzer) classify(count int, kw string, bodyChars int, band Band) pipeline.KeywordStatus {
	switch {
	case count < band.Min:
		return pipeline.KeywordTooLow
	case count > band.Max:
		return pipeline.KeywordTooHigh
	}
	if bodyChars == 0 {
		return pipeline.KeywordAcceptable
	}
	density := float64(count*pipeline.CountChars(kw)) / float64(bodyChars)
	if density <= a.cfg.OptimalDensity {
		return pipeline.KeywordOptimal
	}
	return pipeline.KeywordAcceptable
}

func competitorIssue(c Competitor, primary string, primaryCount int) pipeline.Issue {
	sev := pipeline.SeverityMedium
	if c.Count > primaryCount {
		sev = pipeline.SeverityHigh
	}
	return pipeline.Issue{
		ID:          "dilution:" + c.Phrase,
		Severity:    sev,
		Category:    pipeline.CategoryRepetition,
		Message:     fmt.Sprintf("%q appears %d times, competing with primary keyword %q (%d)", c.Phrase, c.Count, primary, primaryCount),
		Instruction: fmt.Sprintf("Replace some occurrences of %q with synonyms so %q stays the most frequent phrase.", c.Phrase, primary),
	}
}

func (a *Analyzer) checkStructure(st Structure) []pipeline.Issue {
	var issues []pipeline.Issue
	if st.H2 < a.cfg.MinH2 && st.H3 < a.cfg.MinH3 {
		issues = append(issues, pipeline.Issue{
			ID:          "structure_headings",
			Severity:    pipeline.SeverityMedium,
			Category:    pipeline.CategoryStructure,
			Message:     fmt.Sprintf("found %d '##' and %d '###' headings", st.H2, st.H3),
			Instruction: fmt.Sprintf("Add at least %d '## ' subheading(s) or %d '### ' subheadings.", a.cfg.MinH2, a.cfg.MinH3),
		})
	}
	if !a.cfg.Paragraphs.Contains(st.Paragraphs) {
		issues = append(issues, pipeline.Issue{
			ID:          "structure_paragraphs",
			Severity:    pipeline.SeverityMedium,
			Category:    pipeline.CategoryStructure,
			Message:     fmt.Sprintf("found %d paragraphs, want %d-%d", st.Paragraphs, a.cfg.Paragraphs.Min, a.cfg.Paragraphs.Max),
			Instruction: fmt.Sprintf("Organise the body into %d-%d paragraphs separated by blank lines.", a.cfg.Paragraphs.Min, a.cfg.Paragraphs.Max),
		})
	}
	return issues
}

func cleanKeywords(kws []string) []string {
	out := make([]string, 0, len(kws))
	seen := make(map[string]bool, len(kws))
	for _, k := range kws {
		k = strings.Join(strings.Fields(k), " ")
		if k == "" || seen[normalize(k)] {
			continue
		}
		seen[normalize(k)] = true
		out = append(out, k)
	}
	return out
}
