package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GeminiProvider calls the Generative Language streamGenerateContent endpoint with alt=sse.
type GeminiProvider struct {
	client      *http.Client
	apiKey      string
	apiURL      string
	model       string
	maxTokens   int
	temperature float64
}

func NewGeminiProvider(cfg Config) *GeminiProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiProvider{
		client:      httpClientFor(cfg),
		apiKey:      cfg.APIKey,
		apiURL:      apiURL,
		model:       cfg.Model,
		maxTokens:   maxTokensFor(cfg),
		temperature: cfg.Temperature,
	}
}

func (p *GeminiProvider) Complete(ctx context.Context, messages []Message) (Stream, error) {
	body := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: p.maxTokens,
			Temperature:     p.temperature,
		},
	}
	var system []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.apiURL, url.PathEscape(p.model))
	resp, err := postStream(ctx, p.client, "gemini", endpoint, body, map[string]string{
		"X-Goog-Api-Key": p.apiKey,
	})
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp, decodeGeminiChunk), nil
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiStreamResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func decodeGeminiChunk(data []byte) (Chunk, error) {
	var payload geminiStreamResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return Chunk{}, fmt.Errorf("gemini: decode chunk: %w", err)
	}
	if len(payload.Candidates) == 0 {
		return Chunk{}, nil
	}
	var b strings.Builder
	for _, part := range payload.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return Chunk{Content: b.String()}, nil
}
