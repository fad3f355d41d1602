package natstransport

import (
	"strings"
	"unicode"
)

// SubjectPrefix is the first token of every subject the transport uses.
const SubjectPrefix = "objenc"

// namespace joins values into a NATS subject under SubjectPrefix. Empty
// values are dropped and each value is formatted with formatForNamespace.
func namespace(values ...string) string {
	parts := make([]string, 0, len(values)+1)
	parts = append(parts, SubjectPrefix)
	for _, v := range values {
		if v == "" {
			continue
		}
		parts = append(parts, formatForNamespace(v))
	}
	return strings.Join(parts, ".")
}

// formatForNamespace turns camelCase into kebab-case, underscores into
// dashes, and strips anything that is not a letter, digit, dot, dash or
// wildcard.
func formatForNamespace(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 4)
	var prev rune
	for _, r := range value {
		switch {
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			b.WriteByte('-')
			b.WriteRune(unicode.ToLower(r))
		case r == '_':
			b.WriteByte('-')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '*' || r == '-':
			b.WriteRune(r)
		default:
			prev = r
			continue
		}
		prev = r
	}
	return b.String()
}
