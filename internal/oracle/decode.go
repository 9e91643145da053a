package oracle

import (
	"encoding/json"
	"strings"
)

// DecodeJSON unmarshals the first JSON object or array found in text into out.
// Markdown code fences and surrounding prose are ignored. It reports false
// when no structured data could be decoded.
func DecodeJSON(text string, out any) bool {
	text = stripFences(text)
	if text == "" {
		return false
	}
	if json.Unmarshal([]byte(text), out) == nil {
		return true
	}
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		end := balancedEnd(text, start)
		if end < 0 {
			continue
		}
		if json.Unmarshal([]byte(text[start:end+1]), out) == nil {
			return true
		}
	}
	return false
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		// Drop a language tag such as ```json.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		text = rest
	}
	return strings.TrimSpace(text)
}

// balancedEnd returns the index closing the bracket opened at text[start],
// skipping brackets inside JSON strings, or -1.
func balancedEnd(text string, start int) int {
	var stack []byte
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}
