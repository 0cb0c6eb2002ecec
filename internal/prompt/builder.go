// Package prompt assembles the message list sent to the generation
// service and normalizes what comes back. It owns the persona
// instruction, the bounded snippet block, and the chat→completion
// prompt flattening used by the degraded call shape.
package prompt

import (
	"strings"

	"github.com/novanahq/novana/internal/ollama"
)

// snippetWords bounds each retrieved snippet inside the context block.
const snippetWords = 20

// maxSnippets is how many retrieved hits make it into the context block.
const maxSnippets = 2

// System returns the persona instruction bound to the subject's name.
func System(personName string) string {
	return `You are Novana, a warm, concise companion reflecting on memories of ` + personName + `.
- Answer in 2–4 short sentences.
- If the user is vague, ask ONE focused follow-up (not every time).
- Reference at most one short snippet if helpful.
- Never role-play the loved one; speak as a supportive assistant.
- Keep replies specific to the user's message.`
}

// Snippet collapses whitespace and cuts text to maxWords, marking the
// cut with an ellipsis.
func Snippet(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "…"
}

// ContextBlock builds the "Relevant snippets" block from retrieved hit
// texts: at most two snippets, each word-bounded, and the whole block
// truncated to maxChars.
func ContextBlock(texts []string, maxChars int) string {
	if len(texts) == 0 {
		return ""
	}
	if len(texts) > maxSnippets {
		texts = texts[:maxSnippets]
	}

	lines := make([]string, 0, len(texts))
	for _, t := range texts {
		lines = append(lines, "• "+Snippet(t, snippetWords))
	}

	block := "Relevant snippets:\n" + strings.Join(lines, "\n")
	return truncateRunes(block, maxChars)
}

// Compose produces the ordered message list: exactly one system message
// first (persona plus context block, when present), then the history
// turns in chronological order.
func Compose(system, contextBlock string, history []ollama.Message) []ollama.Message {
	sys := system
	if contextBlock != "" {
		sys += "\n\n" + contextBlock
	}

	msgs := make([]ollama.Message, 0, len(history)+1)
	msgs = append(msgs, ollama.Message{Role: "system", Content: sys})
	msgs = append(msgs, history...)
	return msgs
}

// Flatten collapses a chat message list into a single completion prompt:
// system content first, a blank line, labeled turns, and a trailing
// "Assistant:" cue for the model to continue from.
func Flatten(messages []ollama.Message) string {
	var sys string
	var lines []string
	for _, m := range messages {
		if m.Role == "system" {
			sys = m.Content
			continue
		}
		tag := "User"
		if m.Role == "assistant" {
			tag = "Assistant"
		}
		lines = append(lines, tag+": "+m.Content)
	}
	return sys + "\n\n" + strings.Join(lines, "\n") + "\nAssistant:"
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
