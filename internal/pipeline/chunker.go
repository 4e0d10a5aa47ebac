package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"dev.ragsuite.platform/internal/domain"
)

// Boundary rationales recorded on produced chunks.
const (
	rationaleDeterministic = "Deterministic paragraph-aware boundary"
	rationaleAgentic       = "Agentic boundary selection"
	rationaleFallback      = "Fallback to deterministic chunking"
)

// headingFusionFloor is the minimum slack granted on top of MaxChunkChars
// when pulling a short block (typically a heading) into the current chunk.
const headingFusionFloor = 80

// ChunkOptions bounds the deterministic chunker.
type ChunkOptions struct {
	MaxChunkChars int `json:"max_chunk_chars"`
	MinChunkChars int `json:"min_chunk_chars"`
	OverlapChars  int `json:"overlap_chars"`
}

// DefaultChunkOptions returns the options used when a request omits them.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		MaxChunkChars: 1500,
		MinChunkChars: 350,
		OverlapChars:  120,
	}
}

// Validate checks the option bounds shared by both chunkers.
func (o ChunkOptions) Validate() error {
	if o.MaxChunkChars < 500 || o.MaxChunkChars > 8000 {
		return domain.Validationf("max_chunk_chars must be between 500 and 8000")
	}
	if o.MinChunkChars < 100 || o.MinChunkChars > 3000 {
		return domain.Validationf("min_chunk_chars must be between 100 and 3000")
	}
	if o.OverlapChars < 0 || o.OverlapChars > 1000 {
		return domain.Validationf("overlap_chars must be between 0 and 1000")
	}
	if o.MinChunkChars > o.MaxChunkChars {
		return domain.Validationf("min_chunk_chars must not exceed max_chunk_chars")
	}
	return nil
}

// fusionBudget is the hard size cap applied when fusing short blocks.
func (o ChunkOptions) fusionBudget() int {
	slack := o.OverlapChars
	if slack < headingFusionFloor {
		slack = headingFusionFloor
	}
	return o.MaxChunkChars + slack
}

// block is one accumulation unit: a paragraph, a sentence carved out of
// an oversized paragraph, or a hard-wrapped slice of an oversized
// sentence. sep is the separator used when appending it to a running
// accumulation, chosen so the assembled chunk text still matches the
// source where possible.
type block struct {
	text string
	sep  string
}

// ChunkDeterministic splits text into variable-size chunks along
// paragraph boundaries, carving oversized paragraphs at sentence
// boundaries and hard-wrapping anything still larger than the cap.
// Offsets are rune positions into the input text, located by a
// cursor-advancing search; when overlap is requested the cursor rewinds
// so neighboring chunks may share a tail.
func ChunkDeterministic(text string, opts ChunkOptions) ([]domain.ChunkProposal, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	blocks := splitBlocks(text, opts.MaxChunkChars)
	if len(blocks) == 0 {
		return []domain.ChunkProposal{}, nil
	}

	budget := opts.fusionBudget()

	var chunks []string
	current := ""
	for _, b := range blocks {
		if current == "" {
			current = b.text
			continue
		}
		tentative := current + b.sep + b.text
		switch {
		case utf8.RuneCountInString(tentative) <= opts.MaxChunkChars:
			current = tentative
		case utf8.RuneCountInString(current) < opts.MinChunkChars && utf8.RuneCountInString(tentative) <= budget:
			// Heading fusion: a short accumulation (often a bare
			// heading) may absorb the next block past the cap.
			current = tentative
		default:
			chunks = append(chunks, current)
			current = b.text
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}

	// Second pass: a chunk that still came out short folds into its
	// predecessor as long as the fused size stays within budget.
	merged := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if len(merged) > 0 && utf8.RuneCountInString(chunk) < opts.MinChunkChars {
			fused := strings.TrimSpace(merged[len(merged)-1] + "\n\n" + chunk)
			if utf8.RuneCountInString(fused) <= budget {
				merged[len(merged)-1] = fused
				continue
			}
		}
		merged = append(merged, chunk)
	}

	source := []rune(text)
	proposals := make([]domain.ChunkProposal, 0, len(merged))
	cursor := 0
	for index, chunkText := range merged {
		start, end := locateChunk(source, chunkText, cursor)
		proposals = append(proposals, domain.ChunkProposal{
			ChunkIndex: index,
			StartChar:  start,
			EndChar:    end,
			Text:       chunkText,
			Rationale:  rationaleDeterministic,
		})
		if opts.OverlapChars > 0 {
			cursor = end - opts.OverlapChars
			if cursor < 0 {
				cursor = 0
			}
		} else {
			cursor = end
		}
	}
	return proposals, nil
}

// splitBlocks turns text into accumulation units. Paragraphs within the
// cap pass through whole; larger ones are carved at sentence boundaries
// and hard-wrapped when a single sentence still exceeds the cap.
func splitBlocks(text string, maxChars int) []block {
	var blocks []block
	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		if utf8.RuneCountInString(paragraph) <= maxChars {
			blocks = append(blocks, block{text: paragraph, sep: "\n\n"})
			continue
		}
		sentences := splitSentences(paragraph)
		if len(sentences) == 0 {
			sentences = []string{paragraph}
		}
		first := true
		for _, sentence := range sentences {
			for i, piece := range hardWrap(sentence, maxChars) {
				sep := " "
				if first {
					sep = "\n\n"
					first = false
				} else if i > 0 {
					sep = ""
				}
				blocks = append(blocks, block{text: piece, sep: sep})
			}
		}
	}
	return blocks
}

// splitSentences cuts at '.', '!' or '?' followed by whitespace,
// dropping the inter-sentence whitespace.
func splitSentences(paragraph string) []string {
	runes := []rune(paragraph)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r != '.' && r != '!' && r != '?') || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start : i+1])); sentence != "" {
			out = append(out, sentence)
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}

// hardWrap slices s into pieces of at most maxChars runes.
func hardWrap(s string, maxChars int) []string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return []string{s}
	}
	out := make([]string, 0, (len(runes)+maxChars-1)/maxChars)
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// locateChunk finds chunkText in source at or after cursor and returns
// its rune offsets. Chunk text that was reassembled with different
// separators will not match; it is positioned at the cursor so offsets
// stay monotonic and within bounds.
func locateChunk(source []rune, chunkText string, cursor int) (start, end int) {
	if cursor > len(source) {
		cursor = len(source)
	}
	needle := []rune(chunkText)
	start = indexRunes(source, needle, cursor)
	if start < 0 {
		start = cursor
	}
	return start, start + len(needle)
}

// indexRunes is a rune-offset substring search starting at from.
func indexRunes(haystack, needle []rune, from int) int {
	if len(needle) == 0 {
		return from
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		if haystack[i] != needle[0] {
			continue
		}
		match := true
		for j := 1; j < len(needle); j++ {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
