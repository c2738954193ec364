// Package llmjson provides robust JSON extraction from LLM responses.
package llmjson

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract attempts to parse JSON from an LLM response. It tries, in order:
// a direct unmarshal, extraction from a markdown code block, and the first
// `{` to its matching `}`. JSON-mode responses normally succeed on the first
// strategy; the fallbacks absorb models that wrap output in prose anyway.
func Extract[T any](raw string, out *T) error {
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}

	if snippet := fromCodeBlock(raw); snippet != "" {
		if err := json.Unmarshal([]byte(snippet), out); err == nil {
			return nil
		}
	}

	if snippet := jsonSegment(raw); snippet != "" {
		if err := json.Unmarshal([]byte(snippet), out); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no parseable JSON object in response")
}

// fromCodeBlock pulls the contents of the first ``` fence, tolerating a
// language tag on the opening line.
func fromCodeBlock(raw string) string {
	start := strings.Index(raw, "```")
	if start < 0 {
		return ""
	}
	rest := raw[start+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		firstLine := strings.TrimSpace(rest[:newline])
		if firstLine == "json" || firstLine == "" {
			rest = rest[newline+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// jsonSegment returns the substring from the first '{' to its matching '}',
// tracking string literals so embedded braces don't unbalance the scan.
func jsonSegment(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}
	return ""
}
