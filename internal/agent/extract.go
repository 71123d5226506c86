package agent

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON object out of free-form model output. It tries, in
// order: a fenced block tagged json, the whole output, and the outermost
// balanced {...} substring. It never errors; a false second return means no
// object could be extracted. Malformed JSON is not repaired.
func ExtractJSON(output string) (json.RawMessage, bool) {
	if fenced, ok := fencedJSONBlock(output); ok {
		if obj, ok := parseObject(fenced); ok {
			return obj, true
		}
	}

	if obj, ok := parseObject(output); ok {
		return obj, true
	}

	if candidate, ok := balancedBraces(output); ok {
		if obj, ok := parseObject(candidate); ok {
			return obj, true
		}
	}

	return nil, false
}

func parseObject(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// fencedJSONBlock returns the contents of the first ```json fence.
func fencedJSONBlock(s string) (string, bool) {
	lower := strings.ToLower(s)
	start := strings.Index(lower, "```json")
	if start < 0 {
		return "", false
	}
	rest := s[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// balancedBraces returns the substring from the first '{' through its
// matching '}', skipping braces inside JSON strings.
func balancedBraces(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
