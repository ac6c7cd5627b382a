package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/postfactory/internal/checks"
	"github.com/lucasnoah/postfactory/internal/llm"
	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/policy"
	"github.com/lucasnoah/postfactory/internal/prompt"
	"github.com/lucasnoah/postfactory/internal/rules"
	"github.com/lucasnoah/postfactory/internal/seo"
)

const (
	goodTitle = "동구 체육관 건립으로 여는 생활체육 시대"
	cleanBody = "## 동구 체육관\n\n동구 체육관 건립은 오랜 숙원입니다.\n\n주민과 함께 준비하겠습니다."
	bribeBody = cleanBody + "\n\n상품권 무상 지급을 약속합니다."
)

var keywords = []string{"동구 체육관"}

// scripted replays one step per attempt and records what it was asked.
type scripted struct {
	steps    []func(RewriteRequest) (RewriteResult, error)
	requests []RewriteRequest
}

func (s *scripted) Rewrite(ctx context.Context, req RewriteRequest) (RewriteResult, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i](req)
}

func edit(a pipeline.Article) func(RewriteRequest) (RewriteResult, error) {
	return func(RewriteRequest) (RewriteResult, error) {
		return RewriteResult{Article: a, Edited: true}, nil
	}
}

type staticRules struct{}

func (staticRules) Get(context.Context) (*rules.Set, error) { return rules.Default(), nil }

func newTestGate() *checks.Gate {
	return checks.NewGate(policy.NewValidator(staticRules{}, nil), seo.NewAnalyzer(seo.Config{
		BodyFloor:         1,
		BodyCeiling:       100000,
		SingleKeywordBand: seo.Band{Min: 1, Max: 3},
		MultiKeywordBand:  seo.Band{Min: 1, Max: 3},
		Paragraphs:        seo.Band{Min: 1, Max: 10},
	}))
}

func bribeRequest() Request {
	return Request{
		Trigger:       TriggerCompliance,
		Article:       pipeline.Article{Title: goodTitle, Content: bribeBody},
		Issues:        []pipeline.Issue{{ID: "bribery_gift_certificate", Severity: pipeline.SeverityCritical, Category: pipeline.CategoryLegal, Message: "gift certificate"}},
		Keywords:      keywords,
		CampaignStage: pipeline.StageRegisteredCandidate,
	}
}

func TestLoop_QualityMet(t *testing.T) {
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){
		edit(pipeline.Article{Title: goodTitle, Content: cleanBody}),
	}}
	res, err := NewLoop(rw, newTestGate()).Run(context.Background(), bribeRequest())
	require.NoError(t, err)

	assert.True(t, res.QualityMet)
	assert.Equal(t, StopQualityMet, res.Stopped)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, cleanBody, res.Article.Content)
	require.NotNil(t, res.Gate)
	assert.Equal(t, 1, res.Gate.FixRound)

	require.Len(t, rw.requests, 1)
	require.Len(t, rw.requests[0].Groups, 1)
	assert.Equal(t, GroupLegal, rw.requests[0].Groups[0].Name)
}

func TestLoop_NeverExceedsMaxAttempts(t *testing.T) {
	for _, max := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			n := 0
			rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){
				func(req RewriteRequest) (RewriteResult, error) {
					n++
					a := req.Article
					a.Content = bribeBody + fmt.Sprintf("\n\n수정 %d", n)
					return RewriteResult{Article: a, Edited: true}, nil
				},
			}}
			res, err := NewLoop(rw, newTestGate(), WithMaxAttempts(max)).Run(context.Background(), bribeRequest())
			require.NoError(t, err)

			assert.Equal(t, max, res.Attempts)
			assert.Len(t, rw.requests, max)
			assert.False(t, res.QualityMet)
			assert.Equal(t, StopMaxAttempts, res.Stopped)
			assert.Contains(t, res.Article.Content, fmt.Sprintf("수정 %d", max))
		})
	}
}

func TestLoop_DefaultMaxAttempts(t *testing.T) {
	l := NewLoop(&scripted{}, newTestGate(), WithMaxAttempts(0))
	assert.Equal(t, DefaultMaxAttempts, l.MaxAttempts())
}

func TestLoop_NoEdit(t *testing.T) {
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){
		func(req RewriteRequest) (RewriteResult, error) {
			return RewriteResult{Article: req.Article, Edited: false}, nil
		},
	}}
	req := bribeRequest()
	res, err := NewLoop(rw, newTestGate()).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StopNoEdit, res.Stopped)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, req.Article, res.Article)
	assert.Nil(t, res.Gate)
}

func TestLoop_RewriteErrorKeepsLastValidArticle(t *testing.T) {
	first := pipeline.Article{Title: goodTitle, Content: bribeBody + "\n\n첫 수정"}
	boom := errors.New("model unavailable")
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){
		edit(first),
		func(RewriteRequest) (RewriteResult, error) { return RewriteResult{}, boom },
	}}
	res, err := NewLoop(rw, newTestGate(), WithMaxAttempts(3)).Run(context.Background(), bribeRequest())
	require.NoError(t, err)

	assert.Equal(t, StopRewriteError, res.Stopped)
	assert.ErrorIs(t, res.RewriteErr, boom)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, first.Content, res.Article.Content)
}

func TestLoop_DeadlineStopsBeforeAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){edit(pipeline.Article{Title: goodTitle, Content: cleanBody})}}

	req := bribeRequest()
	req.Deadline = now
	res, err := NewLoop(rw, newTestGate(), WithClock(func() time.Time { return now })).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StopDeadline, res.Stopped)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, rw.requests)
	assert.Equal(t, req.Article, res.Article)
}

func TestLoop_DeadlineCheckedBetweenAttempts(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := start
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){
		func(req RewriteRequest) (RewriteResult, error) {
			now = now.Add(time.Minute)
			a := req.Article
			a.Content += "\n\n느린 수정"
			return RewriteResult{Article: a, Edited: true}, nil
		},
	}}
	req := bribeRequest()
	req.Deadline = start.Add(30 * time.Second)
	res, err := NewLoop(rw, newTestGate(), WithMaxAttempts(5), WithClock(func() time.Time { return now })).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StopDeadline, res.Stopped)
	assert.Equal(t, 1, res.Attempts)
}

func TestLoop_RequestClockOverridesLoopClock(t *testing.T) {
	loopNow := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	runNow := loopNow.Add(time.Hour)
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){edit(pipeline.Article{Title: goodTitle, Content: cleanBody})}}

	req := bribeRequest()
	req.Deadline = loopNow.Add(time.Minute)
	req.Now = func() time.Time { return runNow }
	res, err := NewLoop(rw, newTestGate(), WithClock(func() time.Time { return loopNow })).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StopDeadline, res.Stopped)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, rw.requests)
}

func TestLoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewLoop(&scripted{}, newTestGate()).Run(ctx, bribeRequest())
	require.NoError(t, err)
	assert.Equal(t, StopDeadline, res.Stopped)
	assert.Zero(t, res.Attempts)
}

func TestLoop_NextRoundUsesOnlyFailingChecks(t *testing.T) {
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){
		edit(pipeline.Article{Title: "짧은 제목", Content: cleanBody}),
		edit(pipeline.Article{Title: goodTitle, Content: cleanBody}),
	}}
	res, err := NewLoop(rw, newTestGate()).Run(context.Background(), bribeRequest())
	require.NoError(t, err)

	assert.True(t, res.QualityMet)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, rw.requests, 2)
	require.Len(t, rw.requests[1].Groups, 1)
	assert.Equal(t, GroupTitle, rw.requests[1].Groups[0].Name)
	assert.Equal(t, 2, rw.requests[1].Attempt)
}

func TestLoop_OnValidatedSeesEveryGateRun(t *testing.T) {
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){
		edit(pipeline.Article{Title: "짧은 제목", Content: cleanBody}),
		edit(pipeline.Article{Title: goodTitle, Content: cleanBody}),
	}}
	var rounds []int
	var passed []bool
	req := bribeRequest()
	req.OnValidated = func(g *checks.GateResult) {
		rounds = append(rounds, g.FixRound)
		passed = append(passed, g.Passed)
	}

	_, err := NewLoop(rw, newTestGate()).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, rounds)
	assert.Equal(t, []bool{false, true}, passed)
}

func TestLoop_GateErrorIsReturned(t *testing.T) {
	gate := checks.NewGate(policy.NewValidator(rules.ProviderFunc(func(context.Context) (*rules.Set, error) {
		return nil, errors.New("rules offline")
	}), nil), seo.NewAnalyzer(seo.DefaultConfig()))
	rw := &scripted{steps: []func(RewriteRequest) (RewriteResult, error){edit(pipeline.Article{Title: goodTitle, Content: cleanBody})}}

	_, err := NewLoop(rw, gate).Run(context.Background(), bribeRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules offline")
}

func TestGroupIssues(t *testing.T) {
	issues := []pipeline.Issue{
		{ID: "paragraph_count", Category: pipeline.CategoryStructure, Instruction: "문단을 나누세요"},
		{ID: "title_length", Category: pipeline.CategoryTitle, Instruction: "제목을 늘리세요"},
		{ID: "keyword_too_high", Category: pipeline.CategoryRepetition, Instruction: "반복을 줄이세요"},
		{ID: "bribery_meal", Category: pipeline.CategoryLegal, Message: "식사 제공"},
		{ID: "body_too_short", Category: pipeline.CategorySEO, Instruction: "본문을 늘리세요"},
		{ID: "dup", Category: pipeline.CategoryTitle, Instruction: "제목을 늘리세요"},
		{ID: "blank", Category: pipeline.CategorySEO},
	}
	groups := GroupIssues(issues)
	require.Len(t, groups, 4)

	var names []string
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{GroupLegal, GroupRepetition, GroupTitle, GroupSEO}, names)
	assert.Equal(t, []string{"식사 제공"}, groups[0].Instructions)
	assert.Equal(t, []string{"제목을 늘리세요"}, groups[2].Instructions)
	assert.Equal(t, []string{"문단을 나누세요", "본문을 늘리세요"}, groups[3].Instructions)

	assert.Empty(t, GroupIssues(nil))
}

func TestFormatGroup(t *testing.T) {
	assert.Equal(t, "- a\n- b", FormatGroup(Group{Name: GroupSEO, Instructions: []string{"a", "b"}}))
}

func TestLLMRewriter(t *testing.T) {
	var seen string
	c := llm.CompleterFunc(func(ctx context.Context, p string, maxTokens int) (string, error) {
		seen = p
		assert.Equal(t, DefaultRewriteTokens, maxTokens)
		return "TITLE: " + goodTitle + "\nMETA: 동구 체육관 건립 계획을 소개합니다\n\n" + cleanBody, nil
	})
	rw := NewLLMRewriter(c, prompt.Loader{}, 0)

	res, err := rw.Rewrite(context.Background(), RewriteRequest{
		Article:  pipeline.Article{Title: "짧은 제목", Content: bribeBody},
		Groups:   []Group{{Name: GroupLegal, Instructions: []string{"상품권 표현 삭제"}}, {Name: GroupTitle, Instructions: []string{"제목을 늘리세요"}}},
		Keywords: keywords,
		Attempt:  1,
	})
	require.NoError(t, err)

	assert.True(t, res.Edited)
	assert.Equal(t, goodTitle, res.Article.Title)
	assert.Equal(t, cleanBody, res.Article.Content)
	assert.Equal(t, "동구 체육관 건립 계획을 소개합니다", res.Article.Meta)

	assert.Contains(t, seen, "- 상품권 표현 삭제")
	assert.Contains(t, seen, "- 제목을 늘리세요")
	assert.Contains(t, seen, "시도 1")
	assert.NotContains(t, seen, "반복 표현")
	assert.True(t, strings.Index(seen, "상품권 표현 삭제") < strings.Index(seen, "제목을 늘리세요"))
}

func TestLLMRewriter_Unchanged(t *testing.T) {
	a := pipeline.Article{Title: goodTitle, Content: cleanBody}
	c := llm.CompleterFunc(func(context.Context, string, int) (string, error) {
		return "```\n" + cleanBody + "\n```", nil
	})
	res, err := NewLLMRewriter(c, prompt.Loader{}, 100).Rewrite(context.Background(), RewriteRequest{Article: a, Attempt: 1})
	require.NoError(t, err)
	assert.False(t, res.Edited)
	assert.Equal(t, a, res.Article)
}

func TestLLMRewriter_Errors(t *testing.T) {
	empty := llm.CompleterFunc(func(context.Context, string, int) (string, error) { return "TITLE: 제목만\n", nil })
	_, err := NewLLMRewriter(empty, prompt.Loader{}, 0).Rewrite(context.Background(), RewriteRequest{Attempt: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty body")

	failing := llm.CompleterFunc(func(context.Context, string, int) (string, error) { return "", context.DeadlineExceeded })
	_, err = NewLLMRewriter(failing, prompt.Loader{}, 0).Rewrite(context.Background(), RewriteRequest{Attempt: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
