package stage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/llm"
	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/prompt"
	"github.com/lucasnoah/postfactory/internal/seo"
)

// Writer defaults.
const (
	DefaultBackgroundTokens = 2000
	maxDraftTokens          = 8192
)

// WriterOptions configures the writer stages.
type WriterOptions struct {
	// MaxTokens fixes the completion budget; zero derives it from the body band.
	MaxTokens int
	// BackgroundTokens caps background material included in the prompt.
	BackgroundTokens int
	Model            string
}

// Writer produces the first draft with one model call.
type Writer struct {
	completer llm.Completer
	prompts   prompt.Loader
	analyzer  *seo.Analyzer
	tokens    *llm.TokenCounter
	recorder  PromptRecorder
	opts      WriterOptions
	logger    *zap.Logger
}

// NewWriter builds a writer. tokens, recorder and logger may be nil.
func NewWriter(c llm.Completer, prompts prompt.Loader, analyzer *seo.Analyzer, tokens *llm.TokenCounter, recorder PromptRecorder, opts WriterOptions, logger *zap.Logger) *Writer {
	if opts.BackgroundTokens <= 0 {
		opts.BackgroundTokens = DefaultBackgroundTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		completer: c,
		prompts:   prompts,
		analyzer:  analyzer,
		tokens:    tokens,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
	}
}

func (w *Writer) Name() string { return NameWriter }

func (w *Writer) RequiredContextFields() []string {
	return []string{"topic", "profile.name", "profile.region"}
}

func (w *Writer) Run(ctx context.Context, pc *pipeline.Context) pipeline.AgentResult {
	start := time.Now()
	draft, err := w.draft(ctx, pc, w.Name())
	if err != nil {
		return fail(w.Name(), start, "%v", err)
	}
	return succeed(w.Name(), start, draft)
}

// draft renders the writer prompt, calls the model and parses the answer.
func (w *Writer) draft(ctx context.Context, pc *pipeline.Context, stageName string) (pipeline.DraftData, error) {
	text, err := w.prompts.Render(prompt.WriterTemplate, w.writerVars(pc))
	if err != nil {
		return pipeline.DraftData{}, err
	}
	maxTokens := w.maxTokens(pc)
	w.record(pc, stageName, text)
	w.logger.Debug("requesting draft",
		zap.String("run_id", pc.RunID),
		zap.String("stage", stageName),
		zap.Int("prompt_tokens", w.countTokens(text)),
		zap.Int("max_tokens", maxTokens))

	raw, err := w.completer.Complete(ctx, text, maxTokens)
	if err != nil {
		return pipeline.DraftData{}, err
	}
	out := prompt.ParseOutput(raw)
	if out.Body == "" {
		return pipeline.DraftData{}, errEmptyOutput
	}
	return pipeline.DraftData{Content: out.Body, Meta: out.Meta, Model: w.opts.Model, MaxTokens: maxTokens}, nil
}

func (w *Writer) writerVars(pc *pipeline.Context) prompt.Vars {
	cfg := w.analyzer.Config()
	keywords := pc.Keywords()
	body := w.analyzer.BodyBand(pc.TargetLength)
	kwBand := w.analyzer.KeywordBand(len(keywords))

	background := strings.TrimSpace(pc.Background)
	if w.tokens != nil && background != "" {
		background = w.tokens.Truncate(background, w.opts.BackgroundTokens)
	}
	return prompt.Vars{
		"topic":          pc.Topic,
		"region":         pc.Profile.Region,
		"author_name":    pc.Profile.Name,
		"campaign_stage": string(pc.Profile.Stage()),
		"category":       pc.Category,
		"bio":            pc.Profile.Bio,
		"instructions":   pc.Instructions,
		"background":     background,
		"min_chars":      strconv.Itoa(body.Min),
		"max_chars":      strconv.Itoa(body.Max),
		"keywords":       strings.Join(keywords, ", "),
		"keyword_min":    strconv.Itoa(kwBand.Min),
		"keyword_max":    strconv.Itoa(kwBand.Max),
		"paragraph_min":  strconv.Itoa(cfg.Paragraphs.Min),
		"paragraph_max":  strconv.Itoa(cfg.Paragraphs.Max),
		"meta_min":       strconv.Itoa(cfg.Meta.Min),
		"meta_max":       strconv.Itoa(cfg.Meta.Max),
	}
}

// maxTokens budgets two tokens per body character plus room for the meta
// line, capped at maxDraftTokens.
func (w *Writer) maxTokens(pc *pipeline.Context) int {
	if w.opts.MaxTokens > 0 {
		return w.opts.MaxTokens
	}
	n := w.analyzer.BodyBand(pc.TargetLength).Max*2 + 512
	if n > maxDraftTokens {
		n = maxDraftTokens
	}
	return n
}

func (w *Writer) countTokens(s string) int {
	if w.tokens == nil {
		return 0
	}
	return w.tokens.Count(s)
}

func (w *Writer) record(pc *pipeline.Context, stageName, text string) {
	if w.recorder == nil || pc.RunID == "" {
		return
	}
	if err := w.recorder.SavePrompt(pc.RunID, stageName, pc.AttemptNumber, text); err != nil {
		w.logger.Warn("saving prompt failed", zap.String("run_id", pc.RunID), zap.String("stage", stageName), zap.Error(err))
	}
}

// HighQualityWriter drafts, then asks the model to review and revise its own
// draft. It stands in for the writer slot.
type HighQualityWriter struct {
	*Writer
}

// NewHighQualityWriter wraps a Writer.
func NewHighQualityWriter(w *Writer) *HighQualityWriter {
	return &HighQualityWriter{Writer: w}
}

func (h *HighQualityWriter) Name() string { return NameHighQualityWriter }

// Run keeps the first draft when the review call fails or returns nothing.
func (h *HighQualityWriter) Run(ctx context.Context, pc *pipeline.Context) pipeline.AgentResult {
	start := time.Now()
	draft, err := h.draft(ctx, pc, h.Name())
	if err != nil {
		return fail(h.Name(), start, "%v", err)
	}

	reviewed, err := h.review(ctx, pc, draft)
	if err != nil {
		h.logger.Warn("review pass failed, keeping first draft",
			zap.String("run_id", pc.RunID), zap.Error(err))
		return succeed(h.Name(), start, draft)
	}
	return succeed(h.Name(), start, reviewed)
}

func (h *HighQualityWriter) review(ctx context.Context, pc *pipeline.Context, draft pipeline.DraftData) (pipeline.DraftData, error) {
	keywords := pc.Keywords()
	body := h.analyzer.BodyBand(pc.TargetLength)
	kwBand := h.analyzer.KeywordBand(len(keywords))
	text, err := h.prompts.Render(prompt.ReviewTemplate, prompt.Vars{
		"topic":       pc.Topic,
		"author_name": pc.Profile.Name,
		"region":      pc.Profile.Region,
		"keywords":    strings.Join(keywords, ", "),
		"keyword_min": strconv.Itoa(kwBand.Min),
		"keyword_max": strconv.Itoa(kwBand.Max),
		"min_chars":   strconv.Itoa(body.Min),
		"max_chars":   strconv.Itoa(body.Max),
		"draft":       draft.Content,
	})
	if err != nil {
		return draft, err
	}
	h.record(pc, h.Name()+"-review", text)

	raw, err := h.completer.Complete(ctx, text, draft.MaxTokens)
	if err != nil {
		return draft, err
	}
	out := prompt.ParseOutput(raw)
	if out.Body == "" {
		return draft, errEmptyOutput
	}
	revised := draft
	revised.Content = out.Body
	if out.Meta != "" {
		revised.Meta = out.Meta
	}
	return revised, nil
}
