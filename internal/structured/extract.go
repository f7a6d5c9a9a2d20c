// Package structured recovers typed data from free-form model output: it
// extracts JSON from markdown, repairs common syntax damage, validates the
// result against a JSON schema, and wraps calls with retry and timeout.
package structured

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")

// ExtractJSONFromMarkdown returns the JSON payload embedded in text.
// Fenced code blocks win over bare spans; otherwise the first top-level
// {...} or [...] span is returned. A span that is never closed is returned
// through the end of the text so RepairJSON can finish it. The second return
// is false when text contains no JSON-looking content at all.
func ExtractJSONFromMarkdown(text string) (string, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if body == "" {
			continue
		}
		if span, ok := scanSpan(body); ok {
			return span, true
		}
	}
	// An opening fence without its closer (truncated output).
	if i := strings.Index(text, "```"); i >= 0 && !fenceRe.MatchString(text) {
		if span, ok := scanSpan(text[i+3:]); ok {
			return span, true
		}
	}
	return scanSpan(text)
}

// scanSpan finds the first top-level object or array, honoring string
// literals so brackets inside strings do not count.
func scanSpan(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}

	var (
		stack    []byte
		inString bool
		quote    byte
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					return strings.TrimSpace(text[start : i+1]), true
				}
			}
		}
	}
	return strings.TrimSpace(text[start:]), true
}
