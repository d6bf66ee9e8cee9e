package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"draftdesk/pkg/clients"
	"draftdesk/pkg/config"
)

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	APIURL      string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// LoadConfig reads LLM_PROVIDER, LLM_MODEL, LLM_API_KEY, LLM_API_URL and LLM_MAX_TOKENS.
func LoadConfig() Config {
	return Config{
		Provider:    config.GetEnv("LLM_PROVIDER", "gemini"),
		Model:       config.GetEnv("LLM_MODEL", "gemini-2.0-flash"),
		APIKey:      config.GetEnv("LLM_API_KEY", ""),
		APIURL:      config.GetEnv("LLM_API_URL", ""),
		MaxTokens:   config.GetEnvInt("LLM_MAX_TOKENS", 2048),
		Temperature: 0.7,
	}
}

func NewProvider(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func httpClientFor(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return clients.NewHTTPClient(90 * time.Second)
}

func maxTokensFor(cfg Config) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 2048
}
