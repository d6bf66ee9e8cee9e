package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type AnthropicProvider struct {
	client      *http.Client
	apiKey      string
	apiURL      string
	model       string
	maxTokens   int
	temperature float64
}

func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		client:      httpClientFor(cfg),
		apiKey:      cfg.APIKey,
		apiURL:      apiURL,
		model:       cfg.Model,
		maxTokens:   maxTokensFor(cfg),
		temperature: cfg.Temperature,
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message) (Stream, error) {
	body := anthropicRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Stream:      true,
	}
	var system []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	body.System = strings.Join(system, "\n\n")

	resp, err := postStream(ctx, p.client, "anthropic", p.apiURL+"/v1/messages", body, map[string]string{
		"X-API-Key":         p.apiKey,
		"Anthropic-Version": "2023-06-01",
	})
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp, decodeAnthropicEvent), nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func decodeAnthropicEvent(data []byte) (Chunk, error) {
	var event anthropicEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return Chunk{}, fmt.Errorf("anthropic: decode event: %w", err)
	}
	switch event.Type {
	case "content_block_delta":
		if event.Delta != nil {
			return Chunk{Content: event.Delta.Text}, nil
		}
	case "error":
		if event.Error != nil {
			return Chunk{}, fmt.Errorf("anthropic: stream error %s: %s", event.Error.Type, event.Error.Message)
		}
	}
	return Chunk{}, nil
}
