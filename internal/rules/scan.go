package rules

import (
	"strings"
)

// Match is one rule hit inside a text.
type Match struct {
	Rule        Rule
	Occurrences []string
}

// Count returns the number of occurrences found.
func (m Match) Count() int {
	return len(m.Occurrences)
}

// Scan runs every rule over text and returns one Match per rule that hit, in
// rule order. Rules flagged UnlessCited ignore hits whose sentence carries one
// of the citation markers.
func Scan(text string, rules []Rule, citationMarkers []string) []Match {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var matches []Match
	for _, r := range rules {
		if r.re == nil {
			continue
		}
		locs := r.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		var occ []string
		for _, loc := range locs {
			if r.UnlessCited && isCited(text, loc[0], loc[1], citationMarkers) {
				continue
			}
			occ = append(occ, text[loc[0]:loc[1]])
		}
		if len(occ) > 0 {
			matches = append(matches, Match{Rule: r, Occurrences: occ})
		}
	}
	return matches
}

// Applied records one literal substitution.
type Applied struct {
	Rule  Rule
	From  string
	To    string
	Count int
}

// Apply performs every substitution rule on text and reports which ones fired.
func Apply(text string, subs []Rule) (string, []Applied) {
	var applied []Applied
	for _, r := range subs {
		if r.re == nil || r.Replacement == "" {
			continue
		}
		locs := r.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		from := text[locs[0][0]:locs[0][1]]
		text = r.re.ReplaceAllLiteralString(text, r.Replacement)
		applied = append(applied, Applied{Rule: r, From: from, To: r.Replacement, Count: len(locs)})
	}
	return text, applied
}

// sentenceTerminators end a sentence for citation lookup.
const sentenceTerminators = ".!?\n。"

// isCited reports whether the sentence around [start,end) contains a marker.
func isCited(text string, start, end int, markers []string) bool {
	if len(markers) == 0 {
		return false
	}
	from := strings.LastIndexAny(text[:start], sentenceTerminators) + 1
	to := strings.IndexAny(text[end:], sentenceTerminators)
	if to < 0 {
		to = len(text)
	} else {
		to += end
	}
	sentence := strings.ToLower(text[from:to])
	for _, m := range markers {
		if m != "" && strings.Contains(sentence, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
