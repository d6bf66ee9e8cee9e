package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type OpenAIProvider struct {
	client      *http.Client
	apiKey      string
	apiURL      string
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		client:      httpClientFor(cfg),
		apiKey:      cfg.APIKey,
		apiURL:      apiURL,
		model:       cfg.Model,
		maxTokens:   maxTokensFor(cfg),
		temperature: cfg.Temperature,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (Stream, error) {
	body := openAIRequest{
		Model:       p.model,
		Messages:    messages,
		Stream:      true,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	resp, err := postStream(ctx, p.client, "openai", p.apiURL+"/chat/completions", body, headers)
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp, decodeOpenAIChunk), nil
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func decodeOpenAIChunk(data []byte) (Chunk, error) {
	var payload openAIStreamResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return Chunk{}, fmt.Errorf("openai: decode chunk: %w", err)
	}
	if len(payload.Choices) == 0 {
		return Chunk{}, nil
	}
	return Chunk{Content: payload.Choices[0].Delta.Content}, nil
}
