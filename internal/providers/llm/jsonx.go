package llm

import (
	"encoding/json"
	"strings"
)

// DecodeLooseJSON parses a model response that should contain one JSON
// object. It tries, in order: direct unmarshal, code-fence stripping, and
// extraction of the first brace-delimited substring. It never fails: fully
// malformed input yields an empty map.
func DecodeLooseJSON(s string) map[string]any {
	text := NormalizeJSONText(s)
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj
	}
	if frag := ExtractJSONObject(text); frag != "" {
		obj = nil
		if err := json.Unmarshal([]byte(frag), &obj); err == nil && obj != nil {
			return obj
		}
	}
	return map[string]any{}
}

// NormalizeJSONText strips markdown code fences like ```json ... ``` from a
// model response.
func NormalizeJSONText(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		// drop a possible language hint, e.g. json
		if idx := strings.IndexByte(t, '\n'); idx != -1 {
			t = t[idx+1:]
		}
		if j := strings.LastIndex(t, "```"); j != -1 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}
	return t
}

// ExtractJSONObject returns the first balanced brace-delimited substring,
// or "" when there is none.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
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
				return s[start : i+1]
			}
		}
	}
	return ""
}

// getString pulls a trimmed string field out of a loose JSON object.
func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// GetString is the exported form used by callers parsing loose responses.
func GetString(m map[string]any, key string) string { return getString(m, key) }

// GetStringSlice coerces a loose JSON array into []string, skipping
// non-string members.
func GetStringSlice(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// GetStringMap coerces a loose JSON object into map[string]string.
func GetStringMap(m map[string]any, key string) map[string]string {
	obj, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
