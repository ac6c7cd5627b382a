// Package refine closes the gap between validator findings and content that
// satisfies both quality gates, with a hard bound on rewrite attempts.
package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/checks"
	"github.com/lucasnoah/postfactory/internal/pipeline"
)

// DefaultMaxAttempts bounds rewrite calls per loop invocation.
const DefaultMaxAttempts = 2

// Trigger names the validator whose failure started the loop.
type Trigger string

const (
	TriggerCompliance Trigger = "compliance"
	TriggerSEO        Trigger = "seo"
)

// StopReason says why a loop ended.
type StopReason string

const (
	StopQualityMet   StopReason = "quality_met"
	StopMaxAttempts  StopReason = "max_attempts"
	StopDeadline     StopReason = "deadline"
	StopNoEdit       StopReason = "no_edit"
	StopRewriteError StopReason = "rewrite_error"
)

// Instruction groups, in the order they are presented to the rewriter.
const (
	GroupLegal      = pipeline.CategoryLegal
	GroupRepetition = pipeline.CategoryRepetition
	GroupTitle      = pipeline.CategoryTitle
	GroupSEO        = pipeline.CategorySEO
)

var groupOrder = []string{GroupLegal, GroupRepetition, GroupTitle, GroupSEO}

// Group is the rewrite guidance for one issue category.
type Group struct {
	Name         string
	Instructions []string
}

// GroupIssues buckets issues into legal, repetition, title and seo groups.
// Structure findings are SEO suggestions. Empty groups are omitted, and
// duplicate instructions within a group are collapsed.
func GroupIssues(issues []pipeline.Issue) []Group {
	buckets := make(map[string][]string)
	seen := make(map[string]bool)
	for _, is := range issues {
		name := groupFor(is.Category)
		text := is.Instruction
		if text == "" {
			text = is.Message
		}
		if text == "" {
			continue
		}
		key := name + "\x00" + text
		if seen[key] {
			continue
		}
		seen[key] = true
		buckets[name] = append(buckets[name], text)
	}
	var out []Group
	for _, name := range groupOrder {
		if len(buckets[name]) > 0 {
			out = append(out, Group{Name: name, Instructions: buckets[name]})
		}
	}
	return out
}

func groupFor(category string) string {
	switch category {
	case pipeline.CategoryLegal, pipeline.CategoryRepetition, pipeline.CategoryTitle:
		return category
	default:
		return GroupSEO
	}
}

// RewriteRequest is what a rewriter receives on each attempt.
type RewriteRequest struct {
	Article  pipeline.Article
	Groups   []Group
	Keywords []string
	Attempt  int
}

// RewriteResult is a rewriter's answer. Edited is false when the output is
// the same as the input.
type RewriteResult struct {
	Article pipeline.Article
	Edited  bool
}

// Rewriter edits an article according to grouped instructions.
type Rewriter interface {
	Rewrite(ctx context.Context, req RewriteRequest) (RewriteResult, error)
}

// Request starts one loop.
type Request struct {
	Trigger       Trigger
	Article       pipeline.Article
	Issues        []pipeline.Issue
	Keywords      []string
	TargetLength  int
	CampaignStage pipeline.CampaignStage
	// Deadline is the run's soft budget; zero means none.
	Deadline time.Time
	// Now is the clock Deadline was computed with. Nil uses the loop's own.
	Now func() time.Time
	// OnValidated, if set, sees every gate run the loop makes.
	OnValidated func(*checks.GateResult)
}

// Result reports how the loop ended. Article is always the last valid one.
type Result struct {
	Article    pipeline.Article
	Attempts   int
	QualityMet bool
	Stopped    StopReason
	// Gate is the last gate run, nil if no rewrite was validated.
	Gate *checks.GateResult
	// RewriteErr is set when Stopped is StopRewriteError.
	RewriteErr error
}

// Loop re-invokes a Rewriter and re-validates with the gate.
type Loop struct {
	rewriter    Rewriter
	gate        *checks.Gate
	maxAttempts int
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop builds a loop.
func NewLoop(rw Rewriter, gate *checks.Gate, opts ...Option) *Loop {
	l := &Loop{
		rewriter:    rw,
		gate:        gate,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// MaxAttempts returns the configured bound.
func (l *Loop) MaxAttempts() int { return l.maxAttempts }

// Run rewrites and re-validates until both gates pass or a stop condition
// hits. The deadline is checked before each attempt, never mid-call. The only
// error is a gate failure to load rules.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{Article: req.Article}
	issues := req.Issues
	log := l.logger.With(zap.String("trigger", string(req.Trigger)))
	now := l.now
	if req.Now != nil {
		now = req.Now
	}

	for {
		if res.Attempts >= l.maxAttempts {
			res.Stopped = StopMaxAttempts
			break
		}
		if ctx.Err() != nil || (!req.Deadline.IsZero() && !now().Before(req.Deadline)) {
			res.Stopped = StopDeadline
			break
		}
		res.Attempts++
		attempt := res.Attempts

		out, err := l.rewriter.Rewrite(ctx, RewriteRequest{
			Article:  res.Article,
			Groups:   GroupIssues(issues),
			Keywords: req.Keywords,
			Attempt:  attempt,
		})
		if err != nil {
			log.Warn("rewrite failed", zap.Int("attempt", attempt), zap.Error(err))
			res.Stopped = StopRewriteError
			res.RewriteErr = err
			break
		}
		if !out.Edited {
			log.Info("rewrite made no edit", zap.Int("attempt", attempt))
			res.Stopped = StopNoEdit
			break
		}

		gate, err := l.gate.Run(ctx, checks.GateOpts{
			Article:       out.Article,
			Keywords:      req.Keywords,
			TargetLength:  req.TargetLength,
			CampaignStage: req.CampaignStage,
			FixRound:      attempt,
		})
		if err != nil {
			return res, fmt.Errorf("refinement attempt %d: %w", attempt, err)
		}
		res.Article = gate.Article
		res.Gate = gate
		if req.OnValidated != nil {
			req.OnValidated(gate)
		}
		log.Info("refinement attempt validated",
			zap.Int("attempt", attempt),
			zap.Bool("compliance_passed", gate.Compliance.Report.Passed),
			zap.Bool("seo_passed", gate.SEO.Passed),
			zap.Int("issues", len(gate.Issues())))

		if gate.Passed {
			res.QualityMet = true
			res.Stopped = StopQualityMet
			break
		}
		issues = failingIssues(gate)
	}
	return res, nil
}

// failingIssues returns the issues of the checks that did not pass.
func failingIssues(g *checks.GateResult) []pipeline.Issue {
	var out []pipeline.Issue
	if !g.Compliance.Report.Passed {
		out = append(out, g.Compliance.Report.Issues...)
	}
	if !g.SEO.Passed {
		out = append(out, g.SEO.Issues...)
	}
	return out
}

// FormatGroup renders a group's instructions as a markdown bullet list.
func FormatGroup(g Group) string {
	var sb strings.Builder
	for i, ins := range g.Instructions {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(ins)
	}
	return sb.String()
}
