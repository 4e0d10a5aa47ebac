package rag

import (
	"regexp"
	"strings"
)

// Citation markers accept ASCII and CJK brackets so multilingual model
// output keeps its source references.
var (
	citationRE     = regexp.MustCompile(`[\[【](S\d+)[\]】]`)
	inlineSourceRE = regexp.MustCompile(`\s*[\[【]S\d+[\]】]\s*`)
	answerSpaceRE  = regexp.MustCompile(`[ \t]+`)
)

// ExtractCitations collects the source ids cited inline in an answer,
// deduplicated in first-seen order and restricted to the sources the
// model was actually offered.
func ExtractCitations(answer string, available map[string]bool) []string {
	matches := citationRE.FindAllStringSubmatch(answer, -1)
	citations := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, match := range matches {
		id := match[1]
		if seen[id] || !available[id] {
			continue
		}
		seen[id] = true
		citations = append(citations, id)
	}
	return citations
}

// CleanAnswer removes inline citation markers from an answer and tidies
// the whitespace the removal leaves behind: horizontal runs collapse to
// one space per line, and blank lines drop out of multi-line answers.
// The citations_used list is the only carrier of the markers afterwards,
// so extraction on a cleaned answer yields nothing.
func CleanAnswer(answer string) string {
	if strings.TrimSpace(answer) == "" {
		return ""
	}

	cleaned := inlineSourceRE.ReplaceAllString(answer, " ")
	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(answerSpaceRE.ReplaceAllString(line, " "))
	}
	if len(lines) > 1 {
		kept := lines[:0]
		for _, line := range lines {
			if line != "" {
				kept = append(kept, line)
			}
		}
		lines = kept
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
