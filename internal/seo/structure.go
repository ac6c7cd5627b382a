package seo

import (
	"regexp"
	"strings"
)

// Structure counts the markdown elements the structure rules look at.
type Structure struct {
	H2         int `json:"h2"`
	H3         int `json:"h3"`
	Paragraphs int `json:"paragraphs"`
}

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// AnalyzeStructure counts level-2 and level-3 headings and paragraph blocks.
// A block made only of heading lines is not a paragraph.
func AnalyzeStructure(content string) Structure {
	var st Structure
	content = strings.ReplaceAll(content, "\r\n", "\n")
	for _, block := range blankLine.Split(content, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		body := false
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "### "):
				st.H3++
			case strings.HasPrefix(line, "## "):
				st.H2++
			case strings.HasPrefix(line, "#"):
			case line != "":
				body = true
			}
		}
		if body {
			st.Paragraphs++
		}
	}
	return st
}
