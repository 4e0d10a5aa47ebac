package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"dev.ragsuite.platform/internal/domain"
)

var (
	thinkingBlockRE = regexp.MustCompile(`(?is)<thinking>.*?</thinking>`)
	thinkingTagRE   = regexp.MustCompile(`(?i)</?thinking>`)
	jsonFenceRE     = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
)

// StripThinking removes model scratchpad sections from assistant output:
// whole <thinking>...</thinking> blocks first, then any stray tags.
func StripThinking(text string) string {
	withoutBlocks := thinkingBlockRE.ReplaceAllString(text, "")
	withoutTags := thinkingTagRE.ReplaceAllString(withoutBlocks, "")
	return strings.TrimSpace(withoutTags)
}

// ExtractJSONObject parses model output into a JSON object. The whole
// response is tried first; failing that, a fenced ```json block is
// extracted. Anything else is a validation error.
func ExtractJSONObject(responseText string) (map[string]interface{}, error) {
	stripped := strings.TrimSpace(responseText)

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(stripped), &payload); err == nil && payload != nil {
		return payload, nil
	}

	match := jsonFenceRE.FindStringSubmatch(stripped)
	if match == nil {
		return nil, domain.Validationf("Model response did not contain valid JSON")
	}
	payload = nil
	if err := json.Unmarshal([]byte(match[1]), &payload); err != nil {
		return nil, domain.Validationf("Model JSON block is invalid")
	}
	if payload == nil {
		return nil, domain.Validationf("Model JSON response must be an object")
	}
	return payload, nil
}
