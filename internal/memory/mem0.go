package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"draftdesk/internal/models"
	"draftdesk/pkg/clients"
	"draftdesk/pkg/logging"
)

const DefaultMem0URL = "https://api.mem0.ai"

// Mem0Config configures the hosted mem0 backend.
type Mem0Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Mem0Client stores facts in the hosted mem0 API.
type Mem0Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	reads   failsafe.Executor[*http.Response]
	breaker *clients.CircuitBreaker
}

func NewMem0Client(cfg Mem0Config) *Mem0Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMem0URL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = clients.NewHTTPClient(cfg.Timeout)
	}
	bc := clients.DefaultBreakerConfig("mem0")
	bc.Logger = cfg.Logger
	return &Mem0Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
		reads: clients.NewHTTPExecutor(clients.HTTPExecutorConfig{
			MaxRetries: 2,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   2 * time.Second,
		}),
		breaker: clients.NewCircuitBreaker(bc),
	}
}

type mem0Memory struct {
	Memory    string `json:"memory"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

func (c *Mem0Client) GetAll(ctx context.Context, owner string, limit int) ([]models.BehavioralFact, error) {
	q := url.Values{}
	q.Set("user_id", owner)
	if limit > 0 {
		q.Set("page_size", strconv.Itoa(limit))
	}
	endpoint := c.baseURL + "/v1/memories/?" + q.Encode()

	var memories []mem0Memory
	err := c.breaker.Call(func() error {
		resp, err := clients.DoHTTP(ctx, c.reads, func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			c.authorize(req)
			return c.http.Do(req)
		})
		if err != nil {
			return fmt.Errorf("mem0 list memories: %w", err)
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read mem0 response: %w", err)
		}
		memories, err = decodeMemories(body)
		return err
	})
	if err != nil {
		return nil, err
	}

	facts := make([]models.BehavioralFact, 0, len(memories))
	for _, m := range memories {
		if strings.TrimSpace(m.Memory) == "" {
			continue
		}
		recorded, _ := time.Parse(time.RFC3339Nano, m.CreatedAt)
		facts = append(facts, models.BehavioralFact{OwnerUserID: owner, Text: m.Memory, RecordedAt: recorded})
		if limit > 0 && len(facts) == limit {
			break
		}
	}
	return facts, nil
}

func (c *Mem0Client) Add(ctx context.Context, owner, text string) error {
	payload, err := json.Marshal(map[string]any{
		"messages": []map[string]string{{"role": "user", "content": text}},
		"user_id":  owner,
	})
	if err != nil {
		return fmt.Errorf("encode mem0 request: %w", err)
	}
	return c.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/memories/", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build mem0 request: %w", err)
		}
		c.authorize(req)
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("mem0 add memory: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return checkStatus(resp)
	})
}

func (c *Mem0Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("mem0 returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// decodeMemories accepts a bare list or a paginated {"results": [...]} body.
func decodeMemories(body []byte) ([]mem0Memory, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []mem0Memory
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode mem0 memories: %w", err)
		}
		return list, nil
	}
	var page struct {
		Results []mem0Memory `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("decode mem0 memories: %w", err)
	}
	return page.Results, nil
}
