// Package orchestrator runs a named pipeline definition: stages in order,
// compliance-triggered refinement, a final SEO reconciliation pass and
// outcome assembly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/checks"
	"github.com/lucasnoah/postfactory/internal/config"
	"github.com/lucasnoah/postfactory/internal/db"
	"github.com/lucasnoah/postfactory/internal/metrics"
	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/refine"
	"github.com/lucasnoah/postfactory/internal/stage"
	"github.com/lucasnoah/postfactory/internal/telemetry"
)

// stageRefinement marks results appended by a refinement loop rather than a
// pipeline stage.
const stageRefinement = "refinement"

// EventLog receives run, stage and gate rows. *db.DB satisfies it.
type EventLog interface {
	StartRun(r db.Run) error
	FinishRun(r db.Run) error
	LogStage(s db.StageRun) error
	LogGate(g db.GateRun) error
}

// RunStore keeps finished runs. *pipeline.Store satisfies it.
type RunStore interface {
	SaveRun(rec *pipeline.RunRecord) error
}

// Orchestrator composes stages into runs.
type Orchestrator struct {
	cfg      *config.PipelineConfig
	registry *stage.Registry
	loop     *refine.Loop

	events  EventLog
	store   RunStore
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventLog records runs, stages and gate verdicts.
func WithEventLog(l EventLog) Option {
	return func(o *Orchestrator) { o.events = l }
}

// WithStore saves every finished run.
func WithStore(s RunStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests. Refinement deadlines are checked
// against the same clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides the run ID source.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an Orchestrator. A nil loop disables refinement.
func New(cfg *config.PipelineConfig, registry *stage.Registry, loop *refine.Loop, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		loop:     loop,
		tracer:   telemetry.Tracer(),
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// step is one resolved entry of a definition.
type step struct {
	ref   config.StageRef
	stage stage.Stage
}

// run is the per-invocation state. It is never shared between runs.
type run struct {
	pipeline string
	pc       *pipeline.Context
	results  *pipeline.Results
	meta     pipeline.OutcomeMetadata
	start    time.Time
	deadline time.Time
	log      *zap.Logger
}

func (r *run) degrade(key, msg string) {
	if r.meta.DegradedStages == nil {
		r.meta.DegradedStages = make(map[string]string)
	}
	r.meta.DegradedStages[key] = msg
}

// resolve returns the definition name and its stages, failing on an unknown
// definition or stage implementation.
func (o *Orchestrator) resolve(name string) (string, []step, error) {
	defName, refs, err := o.cfg.Pipeline.Definition(name)
	if err != nil {
		return defName, nil, fmt.Errorf("%w: %v", ErrUnknownPipeline, err)
	}
	steps := make([]step, 0, len(refs))
	for _, ref := range refs {
		st, ok := o.registry.Get(ref.Stage)
		if !ok {
			return defName, nil, fmt.Errorf("pipeline %q slot %s: unknown stage implementation %q", defName, ref.Slot, ref.Stage)
		}
		steps = append(steps, step{ref: ref, stage: st})
	}
	return defName, steps, nil
}

// Run executes the named definition (the default one when name is empty).
// Quality failures never surface as errors: the outcome carries the verdicts
// and QualityThresholdMet. A required stage failure returns the partial
// outcome together with a *FatalStageError.
func (o *Orchestrator) Run(ctx context.Context, name string, pc *pipeline.Context) (*pipeline.Outcome, error) {
	defName, steps, err := o.resolve(name)
	if err != nil {
		return nil, err
	}
	if pc.RunID == "" {
		pc.RunID = o.newID()
	}

	start := o.now()
	r := &run{
		pipeline: defName,
		pc:       pc,
		results:  pipeline.NewResults(),
		meta:     pipeline.OutcomeMetadata{Pipeline: defName, StageDurations: make(map[string]int64)},
		start:    start,
		deadline: start.Add(o.cfg.Pipeline.BudgetDuration()),
		log:      o.logger.With(zap.String("run_id", pc.RunID), zap.String("pipeline", defName)),
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", pc.RunID),
		attribute.String("pipeline", defName),
	))
	defer span.End()

	o.logEvent(r, "start run", func(l EventLog) error {
		return l.StartRun(db.Run{
			ID:            pc.RunID,
			Pipeline:      defName,
			Topic:         pc.Topic,
			Region:        pc.Profile.Region,
			CampaignStage: string(pc.Profile.Stage()),
		})
	})
	r.log.Info("pipeline started", zap.String("topic", pc.Topic), zap.Int("stages", len(steps)))

	fatal := o.runStages(ctx, r, steps)
	if fatal == nil {
		o.reconcile(ctx, r)
	}

	out := o.assemble(r, fatal)
	o.finish(r, out, fatal)

	span.SetAttributes(
		attribute.Bool("success", out.Success),
		attribute.Bool("quality_threshold_met", out.Metadata.QualityThresholdMet),
		attribute.Int("refinement_attempts", out.Metadata.RefinementAttempts),
	)
	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
		return out, fatal
	}
	return out, nil
}

func (o *Orchestrator) expired(ctx context.Context, r *run) bool {
	return ctx.Err() != nil || !o.now().Before(r.deadline)
}

// runStages walks the definition. It stops early, without error, when the
// budget runs out.
func (o *Orchestrator) runStages(ctx context.Context, r *run, steps []step) error {
	for _, s := range steps {
		if o.expired(ctx, r) {
			r.meta.DeadlineExceeded = true
			r.log.Warn("budget exhausted, finalizing with partial results", zap.String("next_slot", s.ref.Slot))
			return nil
		}
		if err := o.runStep(ctx, r, s); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, r *run, s step) error {
	name := s.stage.Name()
	log := r.log.With(zap.String("slot", s.ref.Slot), zap.String("stage", name))
	r.pc.Previous = r.results.Snapshot()

	if missing := r.pc.Missing(s.stage.RequiredContextFields()); len(missing) > 0 {
		merr := &MissingFieldsError{Fields: missing}
		if s.ref.Required {
			o.record(r, s, pipeline.Failed(name, merr))
			log.Error("required stage cannot start", zap.Strings("missing", missing))
			return &FatalStageError{Slot: s.ref.Slot, Stage: name, Err: merr}
		}
		o.record(r, s, pipeline.AgentResult{
			Error:    merr.Error(),
			Metadata: pipeline.ResultMetadata{Stage: name, Skipped: true},
		})
		log.Warn("optional stage skipped", zap.Strings("missing", missing))
		return nil
	}

	stageCtx, span := o.tracer.Start(ctx, "stage."+s.ref.Slot, trace.WithAttributes(
		attribute.String("stage", name),
		attribute.Bool("required", s.ref.Required),
	))
	began := o.now()
	res := s.stage.Run(stageCtx, r.pc)
	if res.Metadata.Stage == "" {
		res.Metadata.Stage = name
	}
	if res.Metadata.DurationMs == 0 {
		res.Metadata.DurationMs = o.now().Sub(began).Milliseconds()
	}
	span.SetAttributes(attribute.Bool("success", res.Success), attribute.Bool("skipped", res.Metadata.Skipped))
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	span.End()
	o.record(r, s, res)

	if !res.Success {
		cause := errors.New(res.Error)
		if s.ref.Required {
			log.Error("required stage failed", zap.String("error", res.Error))
			return &FatalStageError{Slot: s.ref.Slot, Stage: name, Err: cause}
		}
		derr := &DegradedStageError{Slot: s.ref.Slot, Stage: name, Err: cause}
		log.Warn("optional stage failed, continuing", zap.Error(derr))
		r.degrade(s.ref.Slot, res.Error)
		return nil
	}
	log.Info("stage completed",
		zap.Int64("duration_ms", res.Metadata.DurationMs),
		zap.Bool("skipped", res.Metadata.Skipped))

	switch s.ref.Slot {
	case pipeline.SlotCompliance:
		d, ok := res.Data.(pipeline.ComplianceData)
		if !ok {
			break
		}
		o.logGate(r, checks.CheckCompliance, db.PhaseStage, 0, d.Report, d.Risk)
		if !d.Report.Passed {
			log.Info("compliance failed, refining", zap.String("risk", d.Risk), zap.Int("issues", len(d.Report.Issues)))
			o.refineCompliance(ctx, r, d)
		}
	case pipeline.SlotSEO:
		if d, ok := res.Data.(pipeline.SEOData); ok {
			o.logGate(r, checks.CheckSEO, db.PhaseStage, 0, d.Report, "")
		}
	}
	return nil
}

// record appends a result and emits its metrics and event row.
func (o *Orchestrator) record(r *run, s step, res pipeline.AgentResult) {
	r.results.Append(s.ref.Slot, res)
	r.meta.StageDurations[s.ref.Slot] += res.Metadata.DurationMs
	if res.Metadata.Skipped {
		r.meta.SkippedStages = append(r.meta.SkippedStages, s.ref.Slot)
	} else {
		o.metrics.ObserveStage(s.ref.Slot, res.Metadata.Stage,
			time.Duration(res.Metadata.DurationMs)*time.Millisecond, res.Success, s.ref.Required)
	}
	o.logEvent(r, "log stage", func(l EventLog) error {
		return l.LogStage(db.StageRun{
			RunID:      r.pc.RunID,
			Slot:       s.ref.Slot,
			Stage:      res.Metadata.Stage,
			Success:    res.Success,
			Skipped:    res.Metadata.Skipped,
			DurationMs: res.Metadata.DurationMs,
			Error:      res.Error,
		})
	})
}

// refineCompliance runs the loop on a failed compliance verdict. Only a new
// compliance entry is appended; the SEO stage has not run yet.
func (o *Orchestrator) refineCompliance(ctx context.Context, r *run, d pipeline.ComplianceData) {
	res, ok := o.refine(ctx, r, refine.TriggerCompliance, r.results.Article(), d.Report.Issues)
	if !ok || res.Gate == nil {
		return
	}
	r.results.Append(pipeline.SlotCompliance, pipeline.AgentResult{
		Success:  true,
		Data:     stage.ComplianceData(res.Gate.Compliance),
		Metadata: pipeline.ResultMetadata{Stage: stageRefinement},
	})
}

// reconcile is the post-pipeline pass: when SEO failed while compliance
// passed, rewrite against the SEO issues and re-validate both.
func (o *Orchestrator) reconcile(ctx context.Context, r *run) {
	if !o.cfg.Pipeline.Refinement.ReconcileEnabled() {
		return
	}
	seoData, ok := r.results.SEO()
	if !ok || seoData.Report.Passed {
		return
	}
	comp, ok := r.results.Compliance()
	if !ok || !comp.Report.Passed {
		return
	}
	r.log.Info("seo failed with compliance passing, reconciling", zap.Int("issues", len(seoData.Report.Issues)))

	res, ok := o.refine(ctx, r, refine.TriggerSEO, r.results.Article(), seoData.Report.Issues)
	if !ok || res.Gate == nil {
		return
	}
	g := res.Gate
	r.results.Append(pipeline.SlotCompliance, pipeline.AgentResult{
		Success:  true,
		Data:     stage.ComplianceData(g.Compliance),
		Metadata: pipeline.ResultMetadata{Stage: stageRefinement},
	})
	r.results.Append(pipeline.SlotSEO, pipeline.AgentResult{
		Success:  true,
		Data:     stage.SEOData(g.Article, g.SEO),
		Metadata: pipeline.ResultMetadata{Stage: stageRefinement},
	})
}

// refine invokes the loop and folds its result into the run metadata. The
// bool is false only when refinement is disabled. A loop error degrades the
// run; whatever the loop last validated is still returned.
func (o *Orchestrator) refine(ctx context.Context, r *run, trigger refine.Trigger, article pipeline.Article, issues []pipeline.Issue) (refine.Result, bool) {
	if o.loop == nil {
		return refine.Result{}, false
	}
	phase := db.PhaseRefine
	if trigger == refine.TriggerSEO {
		phase = db.PhaseReconcile
	}

	ctx, span := o.tracer.Start(ctx, "refine."+string(trigger))
	defer span.End()

	began := o.now()
	res, err := o.loop.Run(ctx, refine.Request{
		Trigger:       trigger,
		Article:       article,
		Issues:        issues,
		Keywords:      r.pc.Keywords(),
		TargetLength:  r.pc.TargetLength,
		CampaignStage: r.pc.Profile.Stage(),
		Deadline:      r.deadline,
		Now:           o.now,
		OnValidated: func(g *checks.GateResult) {
			o.logGate(r, checks.CheckCompliance, phase, g.FixRound, g.Compliance.Report, string(g.Compliance.Risk))
			o.logGate(r, checks.CheckSEO, phase, g.FixRound, g.SEO.Quality(), "")
		},
	})
	r.meta.StageDurations[stageRefinement+"."+string(trigger)] += o.now().Sub(began).Milliseconds()
	r.meta.RefinementAttempts += res.Attempts
	o.metrics.ObserveRefinement(string(trigger), res.Attempts)

	rec := pipeline.Refinement{
		Trigger:    string(trigger),
		Attempts:   res.Attempts,
		Stopped:    string(res.Stopped),
		QualityMet: res.QualityMet,
	}
	if res.RewriteErr != nil {
		rec.Error = res.RewriteErr.Error()
	}
	if err != nil {
		rec.Error = err.Error()
		r.degrade(stageRefinement+"."+string(trigger), err.Error())
		span.RecordError(err)
		r.log.Warn("refinement aborted", zap.String("trigger", string(trigger)), zap.Error(err))
	}
	if res.Stopped == refine.StopDeadline {
		r.meta.DeadlineExceeded = true
	}
	r.meta.Refinements = append(r.meta.Refinements, rec)

	span.SetAttributes(
		attribute.Int("attempts", res.Attempts),
		attribute.String("stopped", string(res.Stopped)),
		attribute.Bool("quality_met", res.QualityMet),
	)
	r.log.Info("refinement finished",
		zap.String("trigger", string(trigger)),
		zap.Int("attempts", res.Attempts),
		zap.String("stopped", string(res.Stopped)),
		zap.Bool("quality_met", res.QualityMet))
	return res, true
}

func (o *Orchestrator) logGate(r *run, gate, phase string, round int, rep pipeline.QualityReport, risk string) {
	o.metrics.ObserveGate(gate, rep.Passed)
	o.logEvent(r, "log gate", func(l EventLog) error {
		return l.LogGate(db.GateRun{
			RunID:    r.pc.RunID,
			Gate:     gate,
			Phase:    phase,
			FixRound: round,
			Passed:   rep.Passed,
			Risk:     risk,
			IssueIDs: rep.IssueIDs(),
		})
	})
}

// logEvent writes to the event log if one is configured. Event log failures
// never fail a run.
func (o *Orchestrator) logEvent(r *run, what string, fn func(EventLog) error) {
	if o.events == nil {
		return
	}
	if err := fn(o.events); err != nil {
		r.log.Warn("event log write failed", zap.String("op", what), zap.Error(err))
	}
}

// assemble builds the outcome from the latest results, preferring SEO over
// Compliance over Writer for the article.
func (o *Orchestrator) assemble(r *run, fatal error) *pipeline.Outcome {
	article := r.results.Article()
	m := r.meta

	if c, ok := r.results.Compliance(); ok {
		m.CompliancePassed = c.Report.Passed
		m.ComplianceRisk = c.Risk
		m.ComplianceIssues = c.Report.Issues
		m.ComplianceIssueCnt = len(c.Report.Issues)
	}
	m.Substitutions = substitutions(r.results)
	if s, ok := r.results.SEO(); ok {
		m.SEOPassed = s.Report.Passed
		m.SEOIssues = s.Report.Issues
		m.KeywordStats = s.KeywordStats
	}
	m.QualityThresholdMet = QualityMet(r.results)
	m.TotalDurationMs = o.now().Sub(r.start).Milliseconds()

	success := fatal == nil && strings.TrimSpace(article.Content) != ""
	switch {
	case fatal != nil:
		m.Error = fatal.Error()
	case !success:
		m.Error = "no content was produced before the run ended"
	}

	return &pipeline.Outcome{
		RunID:     r.pc.RunID,
		Success:   success,
		Content:   article.Content,
		Title:     article.Title,
		Meta:      article.Meta,
		WordCount: pipeline.CountChars(article.Content),
		Metadata:  m,
	}
}

// QualityMet is true only when both quality gates produced a passing verdict
// on their latest run. A gate that never ran, was skipped, or errored leaves
// the threshold unmet.
func QualityMet(results *pipeline.Results) bool {
	for _, slot := range []string{pipeline.SlotCompliance, pipeline.SlotSEO} {
		res, ok := results.Latest(slot)
		if !ok || !res.Success || res.Metadata.Skipped {
			return false
		}
		switch d := res.Data.(type) {
		case pipeline.ComplianceData:
			if !d.Report.Passed {
				return false
			}
		case pipeline.SEOData:
			if !d.Report.Passed {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// substitutions gathers the auto-fixes of every compliance entry, so a fix
// made before a refinement is still reported after it.
func substitutions(results *pipeline.Results) []pipeline.Substitution {
	var out []pipeline.Substitution
	for _, e := range results.Entries() {
		if e.Slot != pipeline.SlotCompliance || !e.Result.Success {
			continue
		}
		if d, ok := e.Result.Data.(pipeline.ComplianceData); ok {
			out = append(out, d.Substitutions...)
		}
	}
	return out
}

func (o *Orchestrator) finish(r *run, out *pipeline.Outcome, fatal error) {
	elapsed := o.now().Sub(r.start)
	status, label := db.RunSucceeded, "success"
	switch {
	case fatal != nil:
		status, label = db.RunFailed, "fatal"
	case !out.Success:
		status, label = db.RunFailed, "empty"
	}
	o.metrics.ObserveRun(r.pipeline, label, elapsed, out.Metadata.QualityThresholdMet)
	r.pc.Previous = r.results.Snapshot()

	o.logEvent(r, "finish run", func(l EventLog) error {
		return l.FinishRun(db.Run{
			ID:                 r.pc.RunID,
			Status:             status,
			QualityMet:         out.Metadata.QualityThresholdMet,
			RefinementAttempts: out.Metadata.RefinementAttempts,
			ComplianceRisk:     out.Metadata.ComplianceRisk,
			WordCount:          out.WordCount,
			DurationMs:         elapsed.Milliseconds(),
			Error:              out.Metadata.Error,
			Keywords:           r.pc.Keywords(),
		})
	})

	if o.store != nil {
		rec := &pipeline.RunRecord{
			RunID:     r.pc.RunID,
			Topic:     r.pc.Topic,
			Author:    r.pc.Profile.Name,
			Keywords:  r.pc.Keywords(),
			Outcome:   out,
			CreatedAt: r.start.UTC().Format(time.RFC3339),
			Stages:    pipeline.Summarize(r.results.Entries()),
		}
		if err := o.store.SaveRun(rec); err != nil {
			r.log.Warn("save run failed", zap.Error(err))
		}
	}

	r.log.Info("pipeline finished",
		zap.String("outcome", label),
		zap.Bool("quality_threshold_met", out.Metadata.QualityThresholdMet),
		zap.Int("refinement_attempts", out.Metadata.RefinementAttempts),
		zap.Int("word_count", out.WordCount),
		zap.Duration("elapsed", elapsed))
}
