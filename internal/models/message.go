package models

import "time"

// Chat roles as the OpenAI-compatible engine expects them.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"` // user, assistant, or system
	Content string `json:"content"`
}

// Exchange is one finished request as recorded in the transcript store.
// The queued work itself is never persisted; only its outcome is.
type Exchange struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	BotName     string    `json:"bot_name"`
	UserName    string    `json:"user_name"`
	PromptChars int       `json:"prompt_chars"`
	Response    string    `json:"response"`
	Outcome     string    `json:"outcome"` // ok, timeout, rejected, or error
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
