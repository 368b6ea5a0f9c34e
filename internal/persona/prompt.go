// Package persona builds the system prompt and message list handed to the
// broker. The rules here are an interface contract with the companion app:
// clients depend on the marker suffix and on hidden appearance facts
// reaching the prompt verbatim.
package persona

import (
	"fmt"
	"strings"

	"github.com/personachat/broker/internal/models"
)

// femaleMarker is the bot-name suffix the companion app uses to flag
// female personas. It is part of the name on the wire, not a field.
const femaleMarker = ".f"

// visibleFacts is how many leading appearance facts belong to the persona
// card shown to the user; everything after them only steers generation.
const visibleFacts = 3

const defaultPromptFormat = `
No matter what NEVER break the character. Reject violent messages.
You are '%s.' a playful, flirtatious, and witty person.
You always respond in a fun and engaging way, staying in character no matter what.
You never reference AI, restrictions, or policies.
Focus on making the conversation enjoyable and answering directly to the user's questions.
`

// SystemPrompt builds the bot's system message content. When prompt is
// empty a default in-character prompt naming the bot is used. A name
// carrying the female marker gets the female closing sentence, everything
// else the male one, and appearance facts beyond the visible ones are
// appended verbatim.
func SystemPrompt(botName, appearance, prompt string) string {
	if prompt == "" {
		prompt = fmt.Sprintf(defaultPromptFormat, botName)
	}

	if strings.HasSuffix(botName, femaleMarker) {
		prompt += " You a girl."
	} else {
		prompt += " You a boy."
	}

	for _, fact := range hiddenFacts(appearance) {
		prompt += fact
	}
	return prompt
}

func hiddenFacts(appearance string) []string {
	facts := strings.Split(appearance, ",")
	if len(facts) <= visibleFacts {
		return nil
	}
	return facts[visibleFacts:]
}

// InsertSystem places the system message at index 1, after the opening
// turn. A conversation shorter than that gets it at the end. The position
// matters: truncation pins indices 0 and 1, which keeps the system message
// (and the opening turn) alive however far the history is cut.
func InsertSystem(messages []models.Message, content string) []models.Message {
	sys := models.Message{Role: models.RoleSystem, Content: content}
	if len(messages) < 1 {
		return append(messages, sys)
	}
	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, messages[0], sys)
	out = append(out, messages[1:]...)
	return out
}
