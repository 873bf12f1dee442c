package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON object out of model output. It tries the whole
// text, then the span between the first and last code fence (dropping the
// language tag line), then the span from the first '{' to the last '}'. Only
// objects count; anything else yields an empty, non-nil map.
func ExtractJSON(text string) map[string]any {
	if obj, ok := decodeObject(text); ok {
		return obj
	}

	if first := strings.Index(text, "```"); first >= 0 {
		last := strings.LastIndex(text, "```")
		if last > first {
			block := text[first+3 : last]
			if nl := strings.Index(block, "\n"); nl >= 0 {
				block = block[nl+1:]
			}
			if obj, ok := decodeObject(block); ok {
				return obj
			}
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if obj, ok := decodeObject(text[start : end+1]); ok {
			return obj
		}
	}
	return map[string]any{}
}

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '{' {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
