// Package rules holds the versioned policy rule tables consumed by the
// compliance validator, plus the providers that load and cache them.
package rules

import (
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/postfactory/internal/pipeline"
)

// Rule categories.
const (
	CategoryBribery             = "bribery"
	CategoryDefamation          = "defamation"
	CategoryNumericClaim        = "numeric_claim"
	CategoryIndirectAttribution = "indirect_attribution"
	CategoryCampaign            = "campaign"
	CategoryCliche              = "cliche"
	CategoryBannedPhrase        = "banned_phrase"
)

// categorySeverity is applied to rules that don't set their own severity.
var categorySeverity = map[string]pipeline.Severity{
	CategoryBribery:             pipeline.SeverityCritical,
	CategoryDefamation:          pipeline.SeverityCritical,
	CategoryNumericClaim:        pipeline.SeverityHigh,
	CategoryIndirectAttribution: pipeline.SeverityHigh,
	CategoryCampaign:            pipeline.SeverityHigh,
	CategoryBannedPhrase:        pipeline.SeverityHigh,
	CategoryCliche:              pipeline.SeverityLow,
}

// Rule is one entry of a rule table. Literal patterns are matched
// case-insensitively; Regex patterns use RE2 syntax.
type Rule struct {
	ID          string            `yaml:"id" json:"id"`
	Category    string            `yaml:"category" json:"category"`
	Pattern     string            `yaml:"pattern" json:"pattern"`
	Regex       bool              `yaml:"regex,omitempty" json:"regex,omitempty"`
	Severity    pipeline.Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
	Instruction string            `yaml:"instruction,omitempty" json:"instruction,omitempty"`
	Replacement string            `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	UnlessCited bool              `yaml:"unless_cited,omitempty" json:"unless_cited,omitempty"`

	re *regexp.Regexp
}

// StageRules are the campaign-readiness rules for one campaign stage.
type StageRules struct {
	Forbidden     []Rule `yaml:"forbidden" json:"forbidden"`
	Substitutions []Rule `yaml:"substitutions" json:"substitutions"`
}

// Set is a complete, versioned rule table.
type Set struct {
	Version         string                                  `yaml:"version" json:"version"`
	CitationMarkers []string                                `yaml:"citation_markers" json:"citation_markers"`
	Phrases         []Rule                                  `yaml:"phrases" json:"phrases"`
	Patterns        []Rule                                  `yaml:"patterns" json:"patterns"`
	Cliches         []Rule                                  `yaml:"cliches" json:"cliches"`
	Campaign        map[pipeline.CampaignStage]StageRules `yaml:"campaign" json:"campaign"`

	once       sync.Once
	compileErr error
}

// Parse decodes a YAML rule document and compiles it.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing rules YAML: %w", err)
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Compile validates every rule and compiles its pattern. It is safe to call
// more than once and from multiple goroutines; work happens only the first time.
func (s *Set) Compile() error {
	s.once.Do(func() {
		s.compileErr = s.compile()
	})
	return s.compileErr
}

func (s *Set) compile() error {
	if s.Version == "" {
		return fmt.Errorf("rules: version is required")
	}
	seen := make(map[string]bool)
	compileList := func(list []Rule, field string, defaultCategory string) error {
		for i := range list {
			r := &list[i]
			if r.ID == "" {
				return fmt.Errorf("rules: %s[%d]: id is required", field, i)
			}
			if seen[r.ID] {
				return fmt.Errorf("rules: %s[%d]: duplicate rule id %q", field, i, r.ID)
			}
			seen[r.ID] = true
			if r.Pattern == "" {
				return fmt.Errorf("rules: %s: rule %q has an empty pattern", field, r.ID)
			}
			if r.Category == "" {
				r.Category = defaultCategory
			}
			if r.Severity == "" {
				r.Severity = categorySeverity[r.Category]
				if r.Severity == "" {
					r.Severity = pipeline.SeverityMedium
				}
			}
			expr := r.Pattern
			if !r.Regex {
				expr = regexp.QuoteMeta(expr)
			}
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return fmt.Errorf("rules: %s: rule %q: %w", field, r.ID, err)
			}
			r.re = re
		}
		return nil
	}

	if err := compileList(s.Phrases, "phrases", CategoryBannedPhrase); err != nil {
		return err
	}
	if err := compileList(s.Patterns, "patterns", CategoryBannedPhrase); err != nil {
		return err
	}
	if err := compileList(s.Cliches, "cliches", CategoryCliche); err != nil {
		return err
	}
	for stage, sr := range s.Campaign {
		if !pipeline.IsValidCampaignStage(string(stage)) {
			return fmt.Errorf("rules: unknown campaign stage %q", stage)
		}
		prefix := "campaign." + string(stage)
		if err := compileList(sr.Forbidden, prefix+".forbidden", CategoryCampaign); err != nil {
			return err
		}
		for i, r := range sr.Substitutions {
			if r.Replacement == "" {
				return fmt.Errorf("rules: %s.substitutions[%d]: replacement is required", prefix, i)
			}
		}
		if err := compileList(sr.Substitutions, prefix+".substitutions", CategoryCampaign); err != nil {
			return err
		}
	}
	return nil
}

// ScanRules returns every rule that applies to content written at the given
// campaign stage, in table order.
func (s *Set) ScanRules(stage pipeline.CampaignStage) []Rule {
	out := make([]Rule, 0, len(s.Phrases)+len(s.Patterns)+len(s.Cliches))
	out = append(out, s.Phrases...)
	out = append(out, s.Patterns...)
	out = append(out, s.Cliches...)
	if sr, ok := s.Campaign[stage]; ok {
		out = append(out, sr.Forbidden...)
	}
	return out
}

// Substitutions returns the literal auto-fix rules for a campaign stage.
func (s *Set) Substitutions(stage pipeline.CampaignStage) []Rule {
	return s.Campaign[stage].Substitutions
}

// Count returns the total number of rules in the set.
func (s *Set) Count() int {
	n := len(s.Phrases) + len(s.Patterns) + len(s.Cliches)
	for _, sr := range s.Campaign {
		n += len(sr.Forbidden) + len(sr.Substitutions)
	}
	return n
}
