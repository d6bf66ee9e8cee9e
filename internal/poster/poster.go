// Package poster publishes approved drafts through the X API v2 on behalf of
// a user.
package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"draftdesk/internal/models"
	"draftdesk/pkg/clients"
	"draftdesk/pkg/logging"
)

const DefaultAPIURL = "https://api.twitter.com"

// APIError is a non-2xx response from the X API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request rejected with status %d: %s", e.StatusCode, e.Body)
}

var ErrEmptyText = errors.New("post text is empty")

type Config struct {
	APIURL  string
	Timeout time.Duration
	Breaker clients.BreakerConfig
	Logger  logging.Logger
	// Transport is the base transport under the OAuth signer.
	Transport http.RoundTripper
}

// Client signs each request with the posting user's OAuth 1.0a credentials.
type Client struct {
	apiURL    string
	timeout   time.Duration
	transport http.RoundTripper
	breaker   *clients.CircuitBreaker
	logger    logging.Logger
}

func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = clients.DefaultBreakerConfig("x-posting")
	}
	if cfg.Breaker.Logger == nil {
		cfg.Breaker.Logger = cfg.Logger
	}
	if cfg.Transport == nil {
		cfg.Transport = clients.DefaultTransport()
	}
	return &Client{
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		timeout:   cfg.Timeout,
		transport: cfg.Transport,
		breaker:   clients.NewCircuitBreaker(cfg.Breaker),
		logger:    cfg.Logger,
	}
}

type createRequest struct {
	Text  string       `json:"text"`
	Reply *replyTarget `json:"reply,omitempty"`
}

type replyTarget struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

// Post publishes text and returns the new post id. A non-empty inReplyTo
// makes it a reply.
func (c *Client) Post(ctx context.Context, creds models.Credentials, text, inReplyTo string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	body := createRequest{Text: text}
	if inReplyTo != "" {
		body.Reply = &replyTarget{InReplyToTweetID: inReplyTo}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode post: %w", err)
	}

	var id string
	err = c.breaker.Call(func() error {
		var err error
		id, err = c.send(ctx, creds, payload)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) send(ctx context.Context, creds models.Credentials, payload []byte) (string, error) {
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, creds, http.MethodPost, "/2/tweets", payload, &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("post response missing id")
	}
	if c.logger != nil {
		c.logger.WithField("post_id", out.Data.ID).Info("Published post")
	}
	return out.Data.ID, nil
}

// Identity is the account the credentials act as.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// VerifyCredentials asks the API who creds belong to. It bypasses the
// breaker so one user's bad keys do not open it for everyone.
func (c *Client) VerifyCredentials(ctx context.Context, creds models.Credentials) (Identity, error) {
	var out struct {
		Data Identity `json:"data"`
	}
	if err := c.do(ctx, creds, http.MethodGet, "/2/users/me", nil, &out); err != nil {
		return Identity{}, err
	}
	if out.Data.ID == "" {
		return Identity{}, fmt.Errorf("identity response missing id")
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, creds models.Credentials, method, path string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth1.HTTPClient, &http.Client{Transport: c.transport})
	hc := oauth1.NewConfig(creds.ClientID, creds.ClientSecret).
		Client(ctx, oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret))

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
