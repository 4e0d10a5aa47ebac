// Package pipeline implements the document preparation steps used by
// ingestion: deterministic normalization, paragraph-aware chunking,
// LLM-driven chunking, contextual header generation, and the response
// sanitizers shared by the LLM-facing steps.
package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	zeroWidthRE   = regexp.MustCompile("[\u200B\u200C\u200D\uFEFF]")
	hyphenBreakRE = regexp.MustCompile(`([\p{L}\p{N}_])-\n([\p{L}\p{N}_])`)
	spaceRunRE    = regexp.MustCompile(`[^\S\n]+`)
)

// Lines at or below this length participate in repeated-line removal;
// longer lines are assumed to be prose rather than headers or footers.
const repeatedLineMaxChars = 100

// repeatedLineMinCount is how often a short line must occur before it is
// treated as boilerplate and removed.
const repeatedLineMinCount = 3

// NormalizeOptions controls the normalizer.
type NormalizeOptions struct {
	// MaxBlankLines caps consecutive blank lines in the output.
	MaxBlankLines int `json:"max_blank_lines"`
	// RemoveRepeatedLines removes short lines repeated across the document,
	// typically page headers and footers.
	RemoveRepeatedLines bool `json:"remove_repeated_lines"`
}

// DefaultNormalizeOptions returns the options used when a request omits them.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		MaxBlankLines:       1,
		RemoveRepeatedLines: true,
	}
}

// NormalizeResult carries the cleaned text and what was changed.
type NormalizeResult struct {
	Text                     string `json:"normalized_text"`
	RemovedRepeatedLineCount int    `json:"removed_repeated_line_count"`
	CollapsedWhitespaceCount int    `json:"collapsed_whitespace_count"`
}

// Normalize rewrites raw text into an ingestion-safe form: LF line
// endings, no zero-width characters, soft hyphen breaks joined, runs of
// intra-line whitespace collapsed, repeated short lines optionally
// removed, and blank runs capped at MaxBlankLines.
//
// Normalization is deterministic and idempotent: running it over its own
// output returns the same text and zero counts.
func Normalize(text string, opts NormalizeOptions) NormalizeResult {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = zeroWidthRE.ReplaceAllString(normalized, "")
	normalized = hyphenBreakRE.ReplaceAllString(normalized, "$1$2")

	collapsed := 0
	normalized = spaceRunRE.ReplaceAllStringFunc(normalized, func(match string) string {
		// A lone space is already normal form; counting it would make
		// normalization of normalized text report phantom work.
		if match != " " {
			collapsed++
		}
		return " "
	})

	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}

	removed := 0
	if opts.RemoveRepeatedLines {
		counts := make(map[string]int)
		for _, line := range lines {
			if line != "" && utf8.RuneCountInString(line) <= repeatedLineMaxChars {
				counts[line]++
			}
		}
		filtered := make([]string, 0, len(lines))
		for _, line := range lines {
			if line != "" && counts[line] >= repeatedLineMinCount {
				removed++
				continue
			}
			filtered = append(filtered, line)
		}
		lines = filtered
	}

	maxBlank := opts.MaxBlankLines
	if maxBlank < 0 {
		maxBlank = 0
	}
	compacted := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		if line != "" {
			blanks = 0
			compacted = append(compacted, line)
			continue
		}
		blanks++
		if blanks <= maxBlank {
			compacted = append(compacted, "")
		}
	}

	return NormalizeResult{
		Text:                     strings.TrimSpace(strings.Join(compacted, "\n")),
		RemovedRepeatedLineCount: removed,
		CollapsedWhitespaceCount: collapsed,
	}
}
