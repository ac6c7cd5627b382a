package seo

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// normalize lowercases s and collapses whitespace runs to single spaces.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// compact lowercases s and removes all whitespace.
func compact(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func countNormalized(text, kw string) int {
	if kw == "" {
		return 0
	}
	return strings.Count(text, kw)
}

// CountKeyword counts non-overlapping, case-insensitive occurrences of kw in
// the whitespace-normalised content.
func CountKeyword(content, kw string) int {
	return countNormalized(normalize(content), normalize(kw))
}

// koreanSuffixes are particles and verb endings stripped when stemming,
// longest first.
var koreanSuffixes = []string{
	"에서는", "입니다", "합니다",
	"으로", "에서", "에게", "까지", "부터", "하는", "했다",
	"은", "는", "이", "가", "을", "를", "에", "의", "도", "와", "과", "로", "들",
}

const (
	minStemTokenRunes = 4
	minStemRunes      = 2
	minPhraseTokens   = 2
	maxPhraseTokens   = 4
)

// Stem strips one trailing particle or ending from a token of at least four
// runes. Tokens that are too short, or whose stem would be shorter than two
// runes, are returned unchanged.
func Stem(token string) string {
	if utf8.RuneCountInString(token) < minStemTokenRunes {
		return token
	}
	for _, suf := range koreanSuffixes {
		if !strings.HasSuffix(token, suf) {
			continue
		}
		stem := strings.TrimSuffix(token, suf)
		if utf8.RuneCountInString(stem) >= minStemRunes {
			return stem
		}
		return token
	}
	return token
}

// stopTokens never form a competitor on their own.
var stopTokens = map[string]bool{
	"그리고": true, "하지만": true, "그래서": true, "또한": true, "이번": true,
	"있습니다": true, "없습니다": true, "합니다": true, "입니다": true, "했습니다": true,
	"것입니다": true, "위해": true, "위한": true, "통해": true, "있는": true, "하는": true,
	"저는": true, "제가": true, "우리": true, "여러분": true, "있도록": true,
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
}

func isStop(tok string) bool {
	if stopTokens[tok] {
		return true
	}
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// segments splits text into runs of punctuation-trimmed lowercase tokens.
// Phrases never span a sentence or line break.
func segments(text string) [][]string {
	var out [][]string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		for _, field := range strings.Fields(line) {
			last, _ := utf8.DecodeLastRuneInString(field)
			ends := strings.ContainsRune(".!?。", last)
			tok := strings.TrimFunc(field, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			})
			if tok != "" {
				cur = append(cur, tok)
			}
			if ends {
				flush()
			}
		}
		flush()
	}
	return out
}

// Competitor is a phrase or stem whose frequency rivals the primary keyword.
type Competitor struct {
	Phrase string `json:"phrase"`
	Count  int    `json:"count"`
}

// FindCompetitors returns up to top candidates occurring at least
// max(primaryCount, minCount) times. Candidates are 2-4 token phrases and
// stems of single tokens. Anything equal to, contained in, or containing a
// keyword is excluded.
func FindCompetitors(content string, keywords []string, primaryCount, minCount, top int) []Competitor {
	keys := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if c := compact(k); c != "" {
			keys = append(keys, c)
		}
	}
	related := func(cand string) bool {
		c := strings.ReplaceAll(cand, " ", "")
		for _, k := range keys {
			if strings.Contains(c, k) || strings.Contains(k, c) {
				return true
			}
		}
		return false
	}

	counts := make(map[string]int)
	for _, seg := range segments(content) {
		for n := minPhraseTokens; n <= maxPhraseTokens; n++ {
			for i := 0; i+n <= len(seg); i++ {
				window := seg[i : i+n]
				if allStop(window) {
					continue
				}
				counts[strings.Join(window, " ")]++
			}
		}
		for _, tok := range seg {
			if utf8.RuneCountInString(tok) < minStemTokenRunes {
				continue
			}
			stem := Stem(tok)
			if isStop(stem) || isStop(tok) {
				continue
			}
			counts[stem]++
		}
	}

	threshold := max(primaryCount, minCount)
	var found []Competitor
	for phrase, n := range counts {
		if n < threshold || related(phrase) {
			continue
		}
		found = append(found, Competitor{Phrase: phrase, Count: n})
	}
	found = dropSubsumed(found)
	sort.Slice(found, func(i, j int) bool {
		if found[i].Count != found[j].Count {
			return found[i].Count > found[j].Count
		}
		return found[i].Phrase < found[j].Phrase
	})
	if len(found) > top {
		found = found[:top]
	}
	return found
}

func allStop(tokens []string) bool {
	for _, t := range tokens {
		if !isStop(t) {
			return false
		}
	}
	return true
}

// dropSubsumed removes a phrase when a longer phrase containing it occurs
// just as often, so one repeated sentence fragment reports once.
func dropSubsumed(cs []Competitor) []Competitor {
	out := cs[:0:0]
	for _, c := range cs {
		subsumed := false
		for _, o := range cs {
			if o.Phrase != c.Phrase && o.Count == c.Count && len(o.Phrase) > len(c.Phrase) && strings.Contains(o.Phrase, c.Phrase) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			out = append(out, c)
		}
	}
	return out
}
