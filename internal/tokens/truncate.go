// Package tokens bounds a conversation to the engine's context budget.
package tokens

import (
	"unicode/utf8"

	"github.com/personachat/broker/internal/models"
)

// MaxMessageChars is the hard per-message content cap in characters,
// applied before any budget accounting.
const MaxMessageChars = 400

// Estimate approximates the token count of text as one token per four
// characters. This is deliberately not a real tokenizer: the admission
// budget is defined in these units and the gateway and the worker must
// agree on them exactly.
func Estimate(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// EstimateAll sums Estimate over every message's content.
func EstimateAll(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m.Content)
	}
	return total
}

// Truncate bounds a conversation to maxTokens estimated tokens. Each
// message is first clipped to MaxMessageChars, then the oldest droppable
// turn (index 2) is removed until the total fits. The first two messages
// are never removed, so a conversation already down to two messages may
// still exceed the budget; that overrun is tolerated.
//
// The input slice is not modified.
func Truncate(messages []models.Message, maxTokens int) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)

	for i := range out {
		out[i].Content = clip(out[i].Content, MaxMessageChars)
	}

	total := EstimateAll(out)
	for total > maxTokens && len(out) > 2 {
		out = append(out[:2], out[3:]...)
		total = EstimateAll(out)
	}
	return out
}

// clip truncates s to at most n characters, never splitting a rune.
func clip(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
