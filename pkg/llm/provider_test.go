package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProvider_Generate(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected auth header")
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream || req.Model != "gpt-test" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIURL: server.URL, APIKey: "test-key", Model: "gpt-test"})
	text, err := Generate(context.Background(), p, []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Hello world" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestAnthropicProvider_Generate(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" || r.Header.Get("Anthropic-Version") == "" {
			t.Errorf("missing anthropic headers")
		}
		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.System != "be brief" || len(req.Messages) != 1 {
			t.Errorf("expected system split out, got %+v", req)
		}
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Tweet 1:\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"\\nReply: ok\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{APIURL: server.URL, APIKey: "k", Model: "claude-test"})
	text, err := Generate(context.Background(), p, []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Tweet 1:\nReply: ok" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestGeminiProvider_Generate(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:streamGenerateContent" || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("unexpected url %s", r.URL.String())
		}
		if r.Header.Get("X-Goog-Api-Key") != "g" {
			t.Errorf("missing api key header")
		}
		var req geminiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.SystemInstruction == nil || len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("unexpected request %+v", req)
		}
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hi \"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"there\"}]}}]}\r\n\r\n")
	}))
	defer server.Close()

	p := NewGeminiProvider(Config{APIURL: server.URL, APIKey: "g", Model: "gemini-test"})
	text, err := Generate(context.Background(), p, []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Hi there" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestGenerate_StatusError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	}))
	defer server.Close()

	p := NewOllamaProvider(Config{APIURL: server.URL, Model: "llama"})
	_, err := Generate(context.Background(), p, []Message{{Role: "user", Content: "hi"}})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests || se.Body != "slow down" {
		t.Fatalf("expected StatusError 429, got %v", err)
	}
}

func TestGenerate_NilProvider(t *testing.T) {
	if _, err := Generate(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "ollama", "gemini", "Gemini"} {
		if _, err := NewProvider(Config{Provider: name, Model: "m"}); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if _, err := NewProvider(Config{Provider: "bogus", Model: "m"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := NewProvider(Config{Provider: "openai"}); err == nil {
		t.Fatal("expected error for missing model")
	}
}
