package structured

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// RepairJSON fixes the syntax damage models commonly produce: trailing
// commas, bare or single-quoted keys, single-quoted strings, raw control
// characters, and output truncated mid-string or mid-object. Valid JSON is
// returned unchanged.
func RepairJSON(raw string) string {
	if json.Valid([]byte(raw)) {
		return raw
	}
	r := repairer{in: []rune(strings.TrimSpace(raw))}
	return r.run()
}

type repairer struct {
	in    []rune
	out   strings.Builder
	stack []rune
}

func (r *repairer) run() string {
	for i := 0; i < len(r.in); i++ {
		c := r.in[i]
		switch {
		case c == '"' || c == '\'':
			i = r.readString(i, c)
		case c == '{':
			r.stack = append(r.stack, '}')
			r.out.WriteRune(c)
		case c == '[':
			r.stack = append(r.stack, ']')
			r.out.WriteRune(c)
		case c == '}' || c == ']':
			if len(r.stack) == 0 {
				continue
			}
			r.trimDangling()
			r.out.WriteRune(r.stack[len(r.stack)-1])
			r.stack = r.stack[:len(r.stack)-1]
		case c == ',':
			if next := r.peek(i + 1); next == '}' || next == ']' || next == 0 {
				continue
			}
			r.out.WriteRune(c)
		case c == '-' || unicode.IsDigit(c):
			i = r.readNumber(i)
		case isIdentStart(c):
			i = r.readIdent(i)
		case unicode.IsControl(c) && c != '\n' && c != '\t' && c != '\r':
			// dropped
		default:
			r.out.WriteRune(c)
		}
	}
	r.trimDangling()
	for j := len(r.stack) - 1; j >= 0; j-- {
		r.out.WriteRune(r.stack[j])
	}
	return r.out.String()
}

// readString copies a string literal starting at in[start], converting
// single quotes to double quotes and escaping raw control characters. An
// unterminated string is closed at end of input.
func (r *repairer) readString(start int, quote rune) int {
	r.out.WriteByte('"')
	for i := start + 1; i < len(r.in); i++ {
		c := r.in[i]
		switch {
		case c == '\\':
			if i+1 >= len(r.in) {
				continue
			}
			next := r.in[i+1]
			i++
			if next == '\'' {
				r.out.WriteRune('\'')
				continue
			}
			r.out.WriteRune('\\')
			r.out.WriteRune(next)
		case c == quote:
			r.out.WriteByte('"')
			return i
		case c == '"':
			r.out.WriteString(`\"`)
		case c < 0x20:
			r.out.WriteString(escapeControl(c))
		default:
			r.out.WriteRune(c)
		}
	}
	r.out.WriteByte('"')
	return len(r.in)
}

// readIdent handles a run of bare word characters. Keys are quoted, Python
// style literals become JSON literals, and other bare values become strings.
func (r *repairer) readIdent(start int) int {
	end := start
	for end < len(r.in) && isIdentPart(r.in[end]) {
		end++
	}
	word := string(r.in[start:end])

	if r.peek(end) == ':' {
		r.out.WriteString(quoteString(word))
		return end - 1
	}
	switch word {
	case "true", "false", "null":
		r.out.WriteString(word)
	case "True":
		r.out.WriteString("true")
	case "False":
		r.out.WriteString("false")
	case "None", "undefined":
		r.out.WriteString("null")
	default:
		r.out.WriteString(quoteString(word))
	}
	return end - 1
}

func (r *repairer) readNumber(start int) int {
	end := start
	for end < len(r.in) && strings.ContainsRune("0123456789+-.eE", r.in[end]) {
		end++
	}
	r.out.WriteString(string(r.in[start:end]))
	return end - 1
}

// peek returns the next non-space rune at or after i, or 0 at end of input.
func (r *repairer) peek(i int) rune {
	for ; i < len(r.in); i++ {
		if !unicode.IsSpace(r.in[i]) {
			return r.in[i]
		}
	}
	return 0
}

// trimDangling removes a trailing comma and completes a dangling key so the
// output can be closed.
func (r *repairer) trimDangling() {
	s := strings.TrimRightFunc(r.out.String(), unicode.IsSpace)
	switch {
	case strings.HasSuffix(s, ","):
		s = s[:len(s)-1]
	case strings.HasSuffix(s, ":"):
		s += "null"
	default:
		return
	}
	r.out.Reset()
	r.out.WriteString(s)
}

func isIdentStart(c rune) bool {
	return c == '_' || c == '$' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || unicode.IsDigit(c) || c == '-'
}

func escapeControl(c rune) string {
	switch c {
	case '\n':
		return `\n`
	case '\t':
		return `\t`
	case '\r':
		return `\r`
	case '\b':
		return `\b`
	case '\f':
		return `\f`
	}
	return fmt.Sprintf(`\u%04x`, c)
}

func quoteString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
