package whisper

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeTitle trims, NFC-normalizes and collapses internal whitespace.
// Titles longer than MaxTitleChars are cut.
func NormalizeTitle(s string) string {
	s = norm.NFC.String(s)
	s = strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
	return Truncate(s, MaxTitleChars)
}

// NormalizeText NFC-normalizes transcript text and trims surrounding whitespace.
// Internal line structure is kept.
func NormalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// IsBlank reports whether s is empty or whitespace-only.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Preview returns a plain-text, length-limited rendering of a transcript for lists.
func Preview(transcript string) string {
	plain := StripMarkdown(transcript)
	if CountChars(plain) <= PreviewChars {
		return plain
	}
	return strings.TrimSpace(Truncate(plain, PreviewChars)) + "…"
}

// AppendTranscript appends a new transcription segment to an existing transcript.
func AppendTranscript(existing, segment string) string {
	if IsBlank(existing) {
		return segment
	}
	return existing + "\n" + segment
}
