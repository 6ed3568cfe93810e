// Package textx provides small text utilities used across the project.
package textx

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// answerEchoHeaders are lead-in lines models sometimes copy from the prompt scaffold.
var answerEchoHeaders = []string{
	"Kết quả trích dẫn:",
	"Kết quả:",
	"Trả lời:",
}

var blankRuns = regexp.MustCompile(`\n[ \t]*(\n[ \t]*){2,}`)

// CleanAnswer applies the fixed post-processing rules to a model answer:
// CRLF normalisation, removal of an echoed prompt header, collapsing runs of
// blank lines to one, and trimming.
func CleanAnswer(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)
	for _, h := range answerEchoHeaders {
		if strings.HasPrefix(s, h) {
			s = strings.TrimSpace(strings.TrimPrefix(s, h))
			break
		}
	}
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// HasPrefixFold reports whether s starts with prefix as a whole word, ignoring
// case, and returns the remainder with surrounding whitespace removed.
// The prefix must be followed by whitespace or the end of s.
func HasPrefixFold(s, prefix string) (string, bool) {
	if prefix == "" || len(s) < len(prefix) {
		return "", false
	}
	if !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	rest := s[len(prefix):]
	if r, _ := utf8.DecodeRuneInString(rest); rest != "" && !unicode.IsSpace(r) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
