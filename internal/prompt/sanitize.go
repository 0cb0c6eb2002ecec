package prompt

import (
	"strings"
	"unicode"
)

// maxSentences caps how many sentences a sanitized reply may keep.
const maxSentences = 4

// bannedOpeners are stock phrases a reply must not lead with. Only a
// leading sentence is dropped; the same phrase mid-reply is left alone.
var bannedOpeners = []string{
	"as an ai",
	"thank you for sharing",
	"i understand your concern",
	"i might need a moment",
}

// Sanitize normalizes raw generated text into a user-presentable reply:
// whitespace collapsed, wrapping quotes stripped, at most four
// sentences, word count capped with an ellipsis marker, and leading
// banned-opener sentences dropped. Sanitize is idempotent.
func Sanitize(text string, maxWords int) string {
	if text == "" {
		return ""
	}

	t := strings.Join(strings.Fields(text), " ")
	t = strings.Trim(t, "\"'`")
	t = strings.TrimSpace(t)

	sentences := splitSentences(t)
	if len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}
	t = strings.Join(sentences, " ")

	if words := strings.Fields(t); maxWords > 0 && len(words) > maxWords {
		t = strings.Join(words[:maxWords], " ") + "…"
	}

	// Drop leading sentences that start with a banned phrase, as long as
	// something else remains. Looping keeps the result stable when the
	// next sentence is banned too.
	for startsWithBanned(t) {
		parts := splitSentences(t)
		if len(parts) <= 1 {
			break
		}
		t = strings.Join(parts[1:], " ")
	}

	return strings.TrimSpace(t)
}

func startsWithBanned(t string) bool {
	lower := strings.ToLower(t)
	for _, ban := range bannedOpeners {
		if strings.HasPrefix(lower, ban) {
			return true
		}
	}
	return false
}

// splitSentences splits on runs of terminal punctuation followed by
// whitespace. An explicit scan rather than a look-behind regexp; the
// semantics match splitting on `(?<=[.!?])\s+`.
func splitSentences(s string) []string {
	runes := []rune(s)
	var out []string
	start := 0
	i := 0
	for i < len(runes) {
		if !isTerminal(runes[i]) {
			i++
			continue
		}
		// Absorb the full punctuation run, then require whitespace.
		j := i + 1
		for j < len(runes) && isTerminal(runes[j]) {
			j++
		}
		if j < len(runes) && unicode.IsSpace(runes[j]) {
			sentence := strings.TrimSpace(string(runes[start:j]))
			if sentence != "" {
				out = append(out, sentence)
			}
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			start = j
		}
		i = j
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
