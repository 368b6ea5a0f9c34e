// Package engine adapts the OpenAI-compatible completion endpoint exposed
// by llama.cpp's server (and compatible backends such as Ollama).
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/personachat/broker/internal/models"
)

// ErrMalformedResponse means the engine answered with something other than
// a usable completion: no choices, or a choice with no content.
var ErrMalformedResponse = errors.New("unexpected response from model")

// SamplingParams are passed through to the engine untouched; the broker
// attaches no meaning to them.
type SamplingParams struct {
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty"`
}

// DefaultSamplingParams returns values tuned for roleplay chat: high
// temperature, strong repetition penalties.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature:      1.2,
		TopP:             0.9,
		FrequencyPenalty: 0.7,
		PresencePenalty:  0.8,
	}
}

type Client struct {
	llm    llms.Model
	params SamplingParams
}

func New(baseURL, token, model string, params SamplingParams) (*Client, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine client: %w", err)
	}
	return &Client{llm: llm, params: params}, nil
}

// Generate runs one chat completion and concatenates the content of every
// returned choice.
func (c *Client) Generate(ctx context.Context, messages []models.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatRole(m.Role), m.Content))
	}

	resp, err := c.llm.GenerateContent(ctx, content,
		llms.WithTemperature(c.params.Temperature),
		llms.WithTopP(c.params.TopP),
		llms.WithFrequencyPenalty(c.params.FrequencyPenalty),
		llms.WithPresencePenalty(c.params.PresencePenalty),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrMalformedResponse
	}

	var sb strings.Builder
	for _, choice := range resp.Choices {
		if choice == nil {
			return "", ErrMalformedResponse
		}
		sb.WriteString(choice.Content)
	}
	return sb.String(), nil
}

func chatRole(role string) schema.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem
	case models.RoleAssistant:
		return schema.ChatMessageTypeAI
	case models.RoleUser:
		return schema.ChatMessageTypeHuman
	default:
		return schema.ChatMessageTypeGeneric
	}
}
