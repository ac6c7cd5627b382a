package stage

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/seo"
)

// Signal source names and their weights.
const (
	SourceTopic    = "topic"
	SourceRegion   = "region"
	SourceCategory = "category"
	SourceMemory   = "memory"
)

var sourceWeights = map[string]float64{
	SourceTopic:    3,
	SourceRegion:   2,
	SourceCategory: 1,
	SourceMemory:   1,
}

// SelectedKeywords is how many top candidates become required keywords.
const SelectedKeywords = 2

// CategoryKeywords suggests keywords for common post categories.
var CategoryKeywords = map[string][]string{
	"sports":      {"생활체육", "체육시설"},
	"체육":          {"생활체육", "체육시설"},
	"welfare":     {"복지", "돌봄"},
	"복지":          {"복지", "돌봄"},
	"education":   {"교육", "학교"},
	"교육":          {"교육", "학교"},
	"transport":   {"교통", "대중교통"},
	"교통":          {"교통", "대중교통"},
	"economy":     {"일자리", "지역경제"},
	"경제":          {"일자리", "지역경제"},
	"environment": {"환경", "공원"},
	"환경":          {"환경", "공원"},
	"culture":     {"문화", "축제"},
	"문화":          {"문화", "축제"},
}

// KeywordMemory recalls keywords that worked before for a region.
type KeywordMemory interface {
	Recall(ctx context.Context, region, topic string) ([]string, error)
}

// KeywordExtractor ranks keyword candidates from weighted signal sources.
type KeywordExtractor struct {
	memory KeywordMemory
	logger *zap.Logger
}

// NewKeywordExtractor builds an extractor. memory may be nil.
func NewKeywordExtractor(memory KeywordMemory, logger *zap.Logger) *KeywordExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordExtractor{memory: memory, logger: logger}
}

func (k *KeywordExtractor) Name() string { return NameKeywordExtractor }

func (k *KeywordExtractor) RequiredContextFields() []string { return []string{"topic"} }

// Run is skipped when the caller already supplied keywords.
func (k *KeywordExtractor) Run(ctx context.Context, pc *pipeline.Context) pipeline.AgentResult {
	start := time.Now()
	if len(pc.RequiredKeywords) > 0 {
		res := succeed(k.Name(), start, pipeline.KeywordData{Selected: append([]string(nil), pc.RequiredKeywords...)})
		res.Metadata.Skipped = true
		return res
	}

	m := newMerger()
	topicTokens := keywordTokens(pc.Topic)
	for _, p := range topicPhrases(topicTokens) {
		m.add(p, SourceTopic)
	}
	if area := regionArea(pc.Profile.Region); area != "" {
		for _, tok := range topicTokens {
			if tok != area {
				m.add(area+" "+tok, SourceRegion)
			}
		}
	}
	for _, kw := range CategoryKeywords[strings.ToLower(strings.TrimSpace(pc.Category))] {
		m.add(kw, SourceCategory)
	}
	if k.memory != nil {
		recalled, err := k.memory.Recall(ctx, pc.Profile.Region, pc.Topic)
		if err != nil {
			k.logger.Warn("keyword memory unavailable", zap.String("run_id", pc.RunID), zap.Error(err))
		}
		for _, kw := range recalled {
			m.add(kw, SourceMemory)
		}
	}

	cands := m.ranked()
	if len(cands) == 0 {
		return fail(k.Name(), start, "no keyword candidates for topic %q", pc.Topic)
	}
	data := pipeline.KeywordData{Candidates: cands}
	for i := 0; i < len(cands) && i < SelectedKeywords; i++ {
		data.Selected = append(data.Selected, cands[i].Keyword)
	}
	return succeed(k.Name(), start, data)
}

// keywordTokens splits text into stemmed tokens of at least two runes.
func keywordTokens(text string) []string {
	var out []string
	for _, f := range strings.Fields(text) {
		tok := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		tok = seo.Stem(tok)
		if utf8.RuneCountInString(tok) >= 2 {
			out = append(out, tok)
		}
	}
	return out
}

// topicPhrases returns adjacent token pairs, or the single token of a
// one-word topic.
func topicPhrases(tokens []string) []string {
	if len(tokens) == 1 {
		return tokens
	}
	var out []string
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// regionArea returns the most specific part of a region name, e.g. "동구"
// for "부산 동구".
func regionArea(region string) string {
	f := strings.Fields(region)
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}

type merger struct {
	byKey map[string]*pipeline.KeywordCandidate
	order []string
}

func newMerger() *merger {
	return &merger{byKey: make(map[string]*pipeline.KeywordCandidate)}
}

func (m *merger) add(keyword, source string) {
	keyword = strings.Join(strings.Fields(keyword), " ")
	if keyword == "" {
		return
	}
	key := strings.ToLower(strings.ReplaceAll(keyword, " ", ""))
	c, ok := m.byKey[key]
	if !ok {
		c = &pipeline.KeywordCandidate{Keyword: keyword}
		m.byKey[key] = c
		m.order = append(m.order, key)
	}
	for _, s := range c.Sources {
		if s == source {
			return
		}
	}
	c.Score += sourceWeights[source]
	c.Sources = append(c.Sources, source)
}

// ranked orders candidates by score, then by key.
func (m *merger) ranked() []pipeline.KeywordCandidate {
	keys := append([]string(nil), m.order...)
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := m.byKey[keys[i]], m.byKey[keys[j]]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return keys[i] < keys[j]
	})
	out := make([]pipeline.KeywordCandidate, 0, len(keys))
	for _, k := range keys {
		out = append(out, *m.byKey[k])
	}
	return out
}
