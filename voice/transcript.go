package voice

import (
	"regexp"
	"strings"
)

var nonSpeechTag = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

// IsNonSpeech reports whether text carries no words: empty, whitespace, or
// only bracketed or parenthesized tags such as [BLANK_AUDIO] and (noise).
func IsNonSpeech(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	return strings.TrimSpace(nonSpeechTag.ReplaceAllString(text, "")) == ""
}
