// Package extract recovers structured answers from free-form model output.
//
// Model text is untrusted: it may be wrapped in Markdown fences, surrounded
// by prose, or split across several fragments when the model reasons
// visibly before answering. Nothing in this package returns an error; total
// failure yields an empty Object and field accessors fall back to defaults.
package extract

import (
	"encoding/json"
	"strings"
)

// JSON recovers a JSON object from raw model output. It tries, in order:
// the whole trimmed text, the body of a ```json fence (else of any ```
// fence), and the first balanced {...} span. The first candidate that
// decodes to an object wins; otherwise an empty Object is returned.
func JSON(raw string) Object {
	obj, _ := Parse(raw)
	return obj
}

// Parse is JSON plus a flag reporting whether any strategy succeeded.
func Parse(raw string) (Object, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Object{}, false
	}

	if obj, ok := decodeObject(text); ok {
		return obj, true
	}
	if body, ok := fenced(text); ok {
		if obj, ok := decodeObject(body); ok {
			return obj, true
		}
	}
	if span, ok := balancedSpan(text); ok {
		if obj, ok := decodeObject(span); ok {
			return obj, true
		}
	}
	return Object{}, false
}

func decodeObject(s string) (Object, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil || obj == nil {
		return nil, false
	}
	return Object(obj), true
}

// fenced returns the interior of the first ```json block, or of the first
// ``` block when no json-labelled one exists. An unterminated fence runs to
// the end of the text.
func fenced(text string) (string, bool) {
	const fence = "```"

	if i := strings.Index(text, fence+"json"); i >= 0 {
		rest := text[i+len(fence)+len("json"):]
		if j := strings.Index(rest, fence); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest), true
	}

	if i := strings.Index(text, fence); i >= 0 {
		rest := text[i+len(fence):]
		// drop an info string such as "JSON" or "javascript"
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, fence); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// balancedSpan returns the shortest span starting at the first '{' whose
// braces balance. Braces inside JSON string literals are not counted.
func balancedSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
