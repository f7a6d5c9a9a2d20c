package pipeline

import (
	"strings"
	"unicode"
)

// maxUntrustedRunes bounds any single untrusted value placed in a prompt.
const maxUntrustedRunes = 500

const (
	untrustedOpen  = "<untrusted_input>"
	untrustedClose = "</untrusted_input>"
)

// delimiterReplacer defangs anything that could close or reopen the
// untrusted block.
var delimiterReplacer = strings.NewReplacer(
	"<untrusted_input>", "[untrusted_input]",
	"</untrusted_input>", "[/untrusted_input]",
	"<", "‹",
	">", "›",
)

// Untrusted strips control characters, truncates, neutralizes delimiters
// and wraps s for inclusion in a prompt.
func Untrusted(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= maxUntrustedRunes {
			b.WriteString("…")
			break
		}
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			continue
		default:
			b.WriteRune(r)
		}
		n++
	}
	return untrustedOpen + delimiterReplacer.Replace(strings.TrimSpace(b.String())) + untrustedClose
}

// UntrustedBlock is Untrusted for multi-line text such as previous model
// output. Newlines survive; the length limit applies per line.
func UntrustedBlock(lines []string) string {
	var b strings.Builder
	b.WriteString(untrustedOpen)
	b.WriteByte('\n')
	for _, line := range lines {
		inner := strings.TrimSuffix(strings.TrimPrefix(Untrusted(line), untrustedOpen), untrustedClose)
		b.WriteString(inner)
		b.WriteByte('\n')
	}
	b.WriteString(untrustedClose)
	return b.String()
}
