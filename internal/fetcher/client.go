// Package fetcher pulls candidate posts, profiles and engagement counters
// from the twitter-aio RapidAPI endpoint.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"draftdesk/internal/models"
	"draftdesk/pkg/clients"
)

const (
	DefaultBaseURL = "https://twitter-aio.p.rapidapi.com"
	DefaultHost    = "twitter-aio.p.rapidapi.com"

	defaultSearchFilters = `{"includeRetweets":false,"removeReplies":true,"removePostsWithLinks":true,"min_likes":100}`
	defaultUserFilters   = `{"includeRetweets":false,"removeReplies":true,"removePostsWithLinks":true}`
)

var (
	// ErrRateLimited is matched by a *StatusError carrying HTTP 429.
	ErrRateLimited = errors.New("fetcher: rate limited")
	ErrNotFound    = errors.New("fetcher: not found")
	ErrMalformed   = errors.New("fetcher: malformed response")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: %s returned %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// ClientConfig configures the RapidAPI adapter.
type ClientConfig struct {
	BaseURL string
	Host    string
	APIKey  string
	// Timeout bounds each call.
	Timeout       time.Duration
	SearchCount   int
	UserPostCount int
	SearchFilters string
	UserFilters   string
	HTTPClient    *http.Client
}

// Client is the raw API adapter. Every method returns its errors.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.SearchCount <= 0 {
		cfg.SearchCount = 20
	}
	if cfg.UserPostCount <= 0 {
		cfg.UserPostCount = 20
	}
	if cfg.SearchFilters == "" {
		cfg.SearchFilters = defaultSearchFilters
	}
	if cfg.UserFilters == "" {
		cfg.UserFilters = defaultUserFilters
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = clients.NewHTTPClient(0)
	}
	return &Client{cfg: cfg, http: hc}
}

// SearchCandidates runs a latest-posts search for query.
func (c *Client) SearchCandidates(ctx context.Context, query string) ([]models.CandidatePost, error) {
	params := url.Values{}
	params.Set("count", fmt.Sprint(c.cfg.SearchCount))
	params.Set("category", "latest")
	params.Set("lang", "en")
	params.Set("filters", c.cfg.SearchFilters)

	var body json.RawMessage
	if err := c.get(ctx, "search", "/search/"+url.PathEscape(query), params, &body); err != nil {
		return nil, err
	}

	groups, err := decodeSearchGroups(body)
	if err != nil {
		return nil, err
	}
	var out []models.CandidatePost
	for _, g := range groups {
		for _, e := range g.Entries {
			if post, ok := e.candidate(query); ok {
				out = append(out, post)
			}
		}
	}
	return out, nil
}

// FetchProfile resolves a handle. A leading "@" is ignored.
func (c *Client) FetchProfile(ctx context.Context, handle string) (models.Profile, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return models.Profile{}, ErrNotFound
	}

	var resp struct {
		User struct {
			Result *userResult `json:"result"`
		} `json:"user"`
	}
	if err := c.get(ctx, "profile", "/user/by/username/"+url.PathEscape(handle), nil, &resp); err != nil {
		return models.Profile{}, err
	}
	u := resp.User.Result
	if u == nil || u.RestID == "" {
		return models.Profile{}, ErrNotFound
	}
	screenName := u.screenName()
	if screenName == "" {
		screenName = handle
	}
	return models.Profile{
		ExternalID: u.RestID,
		Handle:     screenName,
		Followers:  int64(u.Legacy.FollowersCount),
		Bio:        u.Legacy.Description,
		AvatarURL:  fixAvatarURL(u.avatarURL()),
	}, nil
}

// FetchUserPosts returns the recent timeline of an account.
func (c *Client) FetchUserPosts(ctx context.Context, externalID, handle string) ([]models.CandidatePost, error) {
	params := url.Values{}
	params.Set("count", fmt.Sprint(c.cfg.UserPostCount))
	params.Set("filters", c.cfg.UserFilters)

	var resp struct {
		User struct {
			Result struct {
				Timeline struct {
					Timeline struct {
						Instructions []instruction `json:"instructions"`
					} `json:"timeline"`
				} `json:"timeline"`
			} `json:"result"`
		} `json:"user"`
	}
	if err := c.get(ctx, "user_posts", "/user/"+url.PathEscape(externalID)+"/tweets", params, &resp); err != nil {
		return nil, err
	}

	var out []models.CandidatePost
	for _, inst := range resp.User.Result.Timeline.Timeline.Instructions {
		for _, e := range inst.Entries {
			post, ok := e.candidate(handle)
			if !ok {
				continue
			}
			if post.AuthorHandle == "" {
				post.AuthorHandle = handle
			}
			out = append(out, post)
		}
	}
	return out, nil
}

// FetchPostStats reads the public counters of one post.
func (c *Client) FetchPostStats(ctx context.Context, postID string) (models.PostStats, error) {
	params := url.Values{}
	params.Set("count", "200")

	var resp struct {
		Data struct {
			Conversation struct {
				Instructions []instruction `json:"instructions"`
			} `json:"threaded_conversation_with_injections_v2"`
		} `json:"data"`
	}
	if err := c.get(ctx, "post_stats", "/tweet/"+url.PathEscape(postID), params, &resp); err != nil {
		return models.PostStats{}, err
	}

	var first *tweetResult
	for _, inst := range resp.Data.Conversation.Instructions {
		if inst.Type != "" && inst.Type != "TimelineAddEntries" {
			continue
		}
		for _, e := range inst.Entries {
			t := e.tweet()
			if t == nil {
				continue
			}
			if t.id() == postID {
				return t.stats(postID), nil
			}
			if first == nil {
				first = t
			}
		}
	}
	if first == nil {
		return models.PostStats{}, ErrNotFound
	}
	return first.stats(postID), nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("x-rapidapi-host", c.cfg.Host)
	req.Header.Set("x-rapidapi-key", c.cfg.APIKey)
	req.Header.Set("accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, op, err)
	}
	return nil
}

type searchGroup struct {
	Entries []entry `json:"entries"`
}

// decodeSearchGroups accepts both the object form {"entries": [...]} and a
// bare list of such objects.
func decodeSearchGroups(body json.RawMessage) ([]searchGroup, error) {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var obj struct {
			Entries []searchGroup `json:"entries"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("%w: search: %v", ErrMalformed, err)
		}
		return obj.Entries, nil
	case strings.HasPrefix(trimmed, "["):
		var list []struct {
			Entries []searchGroup `json:"entries"`
		}
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: search: %v", ErrMalformed, err)
		}
		var out []searchGroup
		for _, l := range list {
			out = append(out, l.Entries...)
		}
		return out, nil
	case trimmed == "null":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: search: unexpected body", ErrMalformed)
	}
}

type instruction struct {
	Type    string  `json:"type"`
	Entries []entry `json:"entries"`
}

type entry struct {
	EntryID string `json:"entryId"`
	Content struct {
		ItemContent *struct {
			TweetResults struct {
				Result *tweetResult `json:"result"`
			} `json:"tweet_results"`
		} `json:"itemContent"`
	} `json:"content"`
}

func (e entry) tweet() *tweetResult {
	ic := e.Content.ItemContent
	if ic == nil || ic.TweetResults.Result == nil {
		return nil
	}
	t := ic.TweetResults.Result
	if t.Tweet != nil {
		t = t.Tweet
	}
	if t.Legacy == nil {
		return nil
	}
	return t
}

func (e entry) candidate(origin string) (models.CandidatePost, bool) {
	t := e.tweet()
	if t == nil {
		return models.CandidatePost{}, false
	}
	text := t.text()
	id := t.id()
	if text == "" || id == "" {
		return models.CandidatePost{}, false
	}
	author := t.Core.UserResults.Result
	return models.CandidatePost{
		SourceID:        id,
		AuthorHandle:    author.screenName(),
		AuthorID:        t.Legacy.UserIDStr,
		AuthorAvatarURL: fixAvatarURL(author.avatarURL()),
		BodyText:        text,
		PostedAt:        t.Legacy.CreatedAt,
		OriginQuery:     origin,
	}, true
}

type tweetResult struct {
	RestID    string       `json:"rest_id"`
	Tweet     *tweetResult `json:"tweet"`
	Legacy    *tweetLegacy `json:"legacy"`
	NoteTweet struct {
		Results struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"note_tweet_results"`
	} `json:"note_tweet"`
	Core struct {
		UserResults struct {
			Result userResult `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Views struct {
		Count flexInt `json:"count"`
	} `json:"views"`
}

type tweetLegacy struct {
	IDStr             string  `json:"id_str"`
	FullText          string  `json:"full_text"`
	CreatedAt         string  `json:"created_at"`
	ConversationIDStr string  `json:"conversation_id_str"`
	UserIDStr         string  `json:"user_id_str"`
	FavoriteCount     flexInt `json:"favorite_count"`
	RetweetCount      flexInt `json:"retweet_count"`
	ReplyCount        flexInt `json:"reply_count"`
	QuoteCount        flexInt `json:"quote_count"`
	BookmarkCount     flexInt `json:"bookmark_count"`
}

func (t *tweetResult) id() string {
	switch {
	case t.Legacy.IDStr != "":
		return t.Legacy.IDStr
	case t.RestID != "":
		return t.RestID
	default:
		return t.Legacy.ConversationIDStr
	}
}

// text prefers the long-form note body over the truncated legacy text.
func (t *tweetResult) text() string {
	if note := strings.TrimSpace(t.NoteTweet.Results.Result.Text); note != "" {
		return note
	}
	return strings.TrimSpace(t.Legacy.FullText)
}

func (t *tweetResult) stats(postID string) models.PostStats {
	return models.PostStats{
		PostID:    postID,
		Text:      t.text(),
		Likes:     int64(t.Legacy.FavoriteCount),
		Retweets:  int64(t.Legacy.RetweetCount),
		Replies:   int64(t.Legacy.ReplyCount),
		Quotes:    int64(t.Legacy.QuoteCount),
		Bookmarks: int64(t.Legacy.BookmarkCount),
		Views:     int64(t.Views.Count),
	}
}

type userResult struct {
	RestID string `json:"rest_id"`
	Legacy struct {
		ScreenName           string  `json:"screen_name"`
		Description          string  `json:"description"`
		FollowersCount       flexInt `json:"followers_count"`
		ProfileImageURLHTTPS string  `json:"profile_image_url_https"`
	} `json:"legacy"`
	Core struct {
		ScreenName string `json:"screen_name"`
	} `json:"core"`
	Avatar struct {
		ImageURL string `json:"image_url"`
	} `json:"avatar"`
}

func (u *userResult) screenName() string {
	if u.Legacy.ScreenName != "" {
		return u.Legacy.ScreenName
	}
	return u.Core.ScreenName
}

func (u *userResult) avatarURL() string {
	if u.Legacy.ProfileImageURLHTTPS != "" {
		return u.Legacy.ProfileImageURLHTTPS
	}
	return u.Avatar.ImageURL
}

var avatarTypos = strings.NewReplacer("_noormal", "_normal", "_normall", "_normal", "_norml", "_normal")

// fixAvatarURL repairs size suffixes the API sometimes misspells.
func fixAvatarURL(u string) string {
	return avatarTypos.Replace(u)
}

// flexInt decodes counters sent either as numbers or as numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n := json.Number(s)
	v, err := n.Int64()
	if err != nil {
		fl, ferr := n.Float64()
		if ferr != nil {
			*f = 0
			return nil
		}
		v = int64(fl)
	}
	*f = flexInt(v)
	return nil
}
