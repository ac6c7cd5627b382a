package refine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasnoah/postfactory/internal/llm"
	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/prompt"
)

// DefaultRewriteTokens is the completion budget when none is configured.
const DefaultRewriteTokens = 4096

// LLMRewriter asks a language model to apply grouped instructions.
type LLMRewriter struct {
	completer llm.Completer
	prompts   prompt.Loader
	maxTokens int
}

// NewLLMRewriter builds a rewriter. maxTokens <= 0 selects DefaultRewriteTokens.
func NewLLMRewriter(c llm.Completer, prompts prompt.Loader, maxTokens int) *LLMRewriter {
	if maxTokens <= 0 {
		maxTokens = DefaultRewriteTokens
	}
	return &LLMRewriter{completer: c, prompts: prompts, maxTokens: maxTokens}
}

// Rewrite renders the rewrite prompt, calls the model and parses its answer.
// Missing TITLE or META lines keep the previous values; an empty body is an
// error.
func (r *LLMRewriter) Rewrite(ctx context.Context, req RewriteRequest) (RewriteResult, error) {
	vars := prompt.Vars{
		"attempt":  strconv.Itoa(req.Attempt),
		"keywords": strings.Join(req.Keywords, ", "),
		"title":    req.Article.Title,
		"meta":     req.Article.Meta,
		"content":  req.Article.Content,
	}
	for _, g := range req.Groups {
		vars[groupVar(g.Name)] = FormatGroup(g)
	}

	text, err := r.prompts.Render(prompt.RewriteTemplate, vars)
	if err != nil {
		return RewriteResult{}, fmt.Errorf("render rewrite prompt: %w", err)
	}
	raw, err := r.completer.Complete(ctx, text, r.maxTokens)
	if err != nil {
		return RewriteResult{}, fmt.Errorf("rewrite attempt %d: %w", req.Attempt, err)
	}

	out := prompt.ParseOutput(raw)
	if out.Body == "" {
		return RewriteResult{}, fmt.Errorf("rewrite attempt %d: model returned an empty body", req.Attempt)
	}
	next := req.Article
	next.Content = out.Body
	if out.Title != "" {
		next.Title = out.Title
	}
	if out.Meta != "" {
		next.Meta = out.Meta
	}
	return RewriteResult{Article: next, Edited: !sameArticle(req.Article, next)}, nil
}

func groupVar(name string) string {
	if name == GroupTitle {
		return "title_issues"
	}
	return name
}

func sameArticle(a, b pipeline.Article) bool {
	return strings.TrimSpace(a.Content) == strings.TrimSpace(b.Content) &&
		strings.TrimSpace(a.Title) == strings.TrimSpace(b.Title) &&
		strings.TrimSpace(a.Meta) == strings.TrimSpace(b.Meta)
}
