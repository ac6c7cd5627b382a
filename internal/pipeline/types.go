package pipeline

import (
	"strings"
	"unicode"
)

// CampaignStage is the author's declared legal-eligibility phase.
type CampaignStage string

const (
	StagePreRegistration      CampaignStage = "pre_registration"
	StageProvisionalCandidate CampaignStage = "provisional_candidate"
	StageRegisteredCandidate  CampaignStage = "registered_candidate"
)

// ValidCampaignStages lists all recognised campaign stages.
var ValidCampaignStages = []CampaignStage{StagePreRegistration, StageProvisionalCandidate, StageRegisteredCandidate}

// IsValidCampaignStage checks whether a string names a campaign stage.
func IsValidCampaignStage(s string) bool {
	for _, st := range ValidCampaignStages {
		if string(st) == s {
			return true
		}
	}
	return false
}

// UserProfile describes the author the post is written for.
type UserProfile struct {
	Name          string        `json:"name" yaml:"name"`
	Region        string        `json:"region" yaml:"region"`
	CampaignStage CampaignStage `json:"campaign_stage" yaml:"campaign_stage"`
	Bio           string        `json:"bio,omitempty" yaml:"bio"`
}

// Stage returns the declared campaign stage, defaulting to the strictest one.
func (p UserProfile) Stage() CampaignStage {
	if p.CampaignStage == "" {
		return StagePreRegistration
	}
	return p.CampaignStage
}

// Context is the per-run bag handed to every stage.
type Context struct {
	RunID            string      `json:"run_id"`
	Topic            string      `json:"topic"`
	Category         string      `json:"category,omitempty"`
	Profile          UserProfile `json:"profile"`
	Instructions     string      `json:"instructions,omitempty"`
	Background       string      `json:"background,omitempty"`
	TargetLength     int         `json:"target_length"`
	RequiredKeywords []string    `json:"required_keywords,omitempty"`
	AttemptNumber    int         `json:"attempt_number"`

	// Previous is the read-only snapshot of earlier stage results.
	Previous *Results `json:"-"`
}

// Keywords returns the caller's required keywords, or the extracted ones when
// the caller supplied none.
func (c *Context) Keywords() []string {
	if len(c.RequiredKeywords) > 0 {
		return c.RequiredKeywords
	}
	if c.Previous != nil {
		if kd, ok := c.Previous.Keywords(); ok {
			return kd.Selected
		}
	}
	return nil
}

// PrimaryKeyword returns the first effective keyword, or "".
func (c *Context) PrimaryKeyword() string {
	kws := c.Keywords()
	if len(kws) == 0 {
		return ""
	}
	return kws[0]
}

// Missing reports which of the named fields are empty.
func (c *Context) Missing(fields []string) []string {
	var missing []string
	for _, f := range fields {
		var v string
		switch f {
		case "topic":
			v = c.Topic
		case "category":
			v = c.Category
		case "instructions":
			v = c.Instructions
		case "profile.name":
			v = c.Profile.Name
		case "profile.region":
			v = c.Profile.Region
		case "keywords":
			v = strings.Join(c.Keywords(), "")
		case "draft":
			if c.Previous != nil {
				if d, ok := c.Previous.Draft(); ok {
					v = d.Content
				}
			}
		default:
			continue
		}
		if strings.TrimSpace(v) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Severity ranks how serious an Issue is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Issue categories used to group rewrite instructions.
const (
	CategoryLegal      = "legal"
	CategoryRepetition = "repetition"
	CategoryTitle      = "title"
	CategorySEO        = "seo"
	CategoryStructure  = "structure"
)

// Issue is a single validator finding.
type Issue struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Message     string   `json:"message"`
	Instruction string   `json:"instruction,omitempty"`
}

// QualityReport is a validator verdict.
type QualityReport struct {
	Passed bool    `json:"passed"`
	Issues []Issue `json:"issues"`
}

// CriticalCount returns the number of critical issues.
func (r QualityReport) CriticalCount() int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// IssueIDs returns the IDs of all issues in report order.
func (r QualityReport) IssueIDs() []string {
	ids := make([]string, 0, len(r.Issues))
	for _, i := range r.Issues {
		ids = append(ids, i.ID)
	}
	return ids
}

// KeywordStatus classifies a keyword's frequency.
type KeywordStatus string

const (
	KeywordTooLow     KeywordStatus = "too_low"
	KeywordAcceptable KeywordStatus = "acceptable"
	KeywordOptimal    KeywordStatus = "optimal"
	KeywordTooHigh    KeywordStatus = "too_high"
)

// KeywordStat is the measured frequency of one required keyword.
type KeywordStat struct {
	Keyword string        `json:"keyword"`
	Count   int           `json:"count"`
	Status  KeywordStatus `json:"status"`
}

// Article is the in-progress artifact.
type Article struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Meta    string `json:"meta,omitempty"`
}

// Outcome is what a pipeline run hands back to its caller.
type Outcome struct {
	RunID     string          `json:"run_id"`
	Success   bool            `json:"success"`
	Content   string          `json:"content"`
	Title     string          `json:"title"`
	Meta      string          `json:"meta,omitempty"`
	WordCount int             `json:"word_count"`
	Metadata  OutcomeMetadata `json:"metadata"`
}

// OutcomeMetadata aggregates per-stage observability and quality verdicts.
type OutcomeMetadata struct {
	Pipeline            string            `json:"pipeline"`
	StageDurations      map[string]int64  `json:"stage_durations_ms"`
	SkippedStages       []string          `json:"skipped_stages,omitempty"`
	DegradedStages      map[string]string `json:"degraded_stages,omitempty"`
	CompliancePassed    bool              `json:"compliance_passed"`
	ComplianceRisk      string            `json:"compliance_risk,omitempty"`
	ComplianceIssues    []Issue           `json:"compliance_issues,omitempty"`
	ComplianceIssueCnt  int               `json:"compliance_issue_count"`
	Substitutions       []Substitution    `json:"substitutions,omitempty"`
	SEOPassed           bool              `json:"seo_passed"`
	SEOIssues           []Issue           `json:"seo_issues,omitempty"`
	KeywordStats        []KeywordStat     `json:"keyword_stats,omitempty"`
	RefinementAttempts  int               `json:"refinement_attempts"`
	Refinements         []Refinement      `json:"refinements,omitempty"`
	QualityThresholdMet bool              `json:"quality_threshold_met"`
	DeadlineExceeded    bool              `json:"deadline_exceeded,omitempty"`
	TotalDurationMs     int64             `json:"total_duration_ms"`
	Error               string            `json:"error,omitempty"`
}

// Refinement summarises one refinement loop invocation.
type Refinement struct {
	Trigger    string `json:"trigger"`
	Attempts   int    `json:"attempts"`
	Stopped    string `json:"stopped"`
	QualityMet bool   `json:"quality_met"`
	Error      string `json:"error,omitempty"`
}

// Substitution records a literal auto-fix applied by the compliance stage.
type Substitution struct {
	RuleID string `json:"rule_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Count  int    `json:"count"`
	Field  string `json:"field"` // "content" or "title"
}

// CountChars returns the number of non-whitespace runes in s.
func CountChars(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
