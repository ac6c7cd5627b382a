package stage

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/llm"
	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/prompt"
	"github.com/lucasnoah/postfactory/internal/seo"
)

const (
	titleMaxTokens = 300
	excerptRunes   = 400
)

// TitleWriter asks the model for title candidates and picks one.
type TitleWriter struct {
	completer llm.Completer
	prompts   prompt.Loader
	analyzer  *seo.Analyzer
	recorder  PromptRecorder
	logger    *zap.Logger
}

// NewTitleWriter builds a title stage. recorder and logger may be nil.
func NewTitleWriter(c llm.Completer, prompts prompt.Loader, analyzer *seo.Analyzer, recorder PromptRecorder, logger *zap.Logger) *TitleWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TitleWriter{completer: c, prompts: prompts, analyzer: analyzer, recorder: recorder, logger: logger}
}

func (t *TitleWriter) Name() string { return NameTitleWriter }

func (t *TitleWriter) RequiredContextFields() []string { return []string{"topic", "draft"} }

func (t *TitleWriter) Run(ctx context.Context, pc *pipeline.Context) pipeline.AgentResult {
	start := time.Now()
	band := t.analyzer.Config().Title
	primary := pc.PrimaryKeyword()

	text, err := t.prompts.Render(prompt.TitleTemplate, prompt.Vars{
		"topic":           pc.Topic,
		"author_name":     pc.Profile.Name,
		"region":          pc.Profile.Region,
		"title_min":       strconv.Itoa(band.Min),
		"title_max":       strconv.Itoa(band.Max),
		"primary_keyword": primary,
		"excerpt":         excerpt(pc.Previous.Article().Content, excerptRunes),
	})
	if err != nil {
		return fail(t.Name(), start, "%v", err)
	}
	if t.recorder != nil && pc.RunID != "" {
		if err := t.recorder.SavePrompt(pc.RunID, t.Name(), pc.AttemptNumber, text); err != nil {
			t.logger.Warn("saving prompt failed", zap.String("run_id", pc.RunID), zap.Error(err))
		}
	}

	raw, err := t.completer.Complete(ctx, text, titleMaxTokens)
	if err != nil {
		return fail(t.Name(), start, "%v", err)
	}
	cands := prompt.ParseLines(raw)
	if len(cands) == 0 {
		return fail(t.Name(), start, "%v", errEmptyOutput)
	}
	return succeed(t.Name(), start, pipeline.TitleData{
		Title:      PickTitle(cands, primary, band),
		Candidates: cands,
	})
}

// PickTitle returns the first candidate within the band that contains the
// primary keyword, or the first candidate when none qualifies.
func PickTitle(cands []string, primary string, band seo.Band) string {
	for _, c := range cands {
		n := utf8.RuneCountInString(c)
		if band.Contains(n) && (primary == "" || strings.Contains(strings.ToLower(c), strings.ToLower(primary))) {
			return c
		}
	}
	if len(cands) == 0 {
		return ""
	}
	return cands[0]
}

// excerpt returns at most n runes of s with whitespace collapsed.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
