package prompt

import (
	"strings"
)

// Output is a model response split into its labelled header lines and body.
type Output struct {
	Title string
	Meta  string
	Body  string
}

// ParseOutput reads optional leading "TITLE:" and "META:" lines (in any
// order, blank lines allowed between them) and treats the rest as the body.
// A surrounding markdown code fence is removed.
func ParseOutput(text string) Output {
	text = stripFence(strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n")))
	lines := strings.Split(text, "\n")

	var out Output
	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if v, ok := cutLabel(line, "TITLE:"); ok {
			out.Title = v
			continue
		}
		if v, ok := cutLabel(line, "META:"); ok {
			out.Meta = v
			continue
		}
		break
	}
	out.Body = stripFence(strings.TrimSpace(strings.Join(lines[i:], "\n")))
	return out
}

func cutLabel(line, label string) (string, bool) {
	if len(line) < len(label) || !strings.EqualFold(line[:len(label)], label) {
		return "", false
	}
	return strings.Trim(strings.TrimSpace(line[len(label):]), `"'`), true
}

// stripFence removes a code fence wrapping the whole text.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s
	}
	return strings.TrimSpace(s[nl+1 : len(s)-3])
}

// ParseLines returns the non-empty lines of text with list markers, numbering
// and quotes removed. It is used for candidate lists such as titles.
func ParseLines(text string) []string {
	var out []string
	for _, line := range strings.Split(stripFence(strings.TrimSpace(text)), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•# ")
		line = trimNumbering(line)
		line = strings.Trim(strings.TrimSpace(line), `"'“”‘’`)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func trimNumbering(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
