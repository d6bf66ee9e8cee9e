// Package models holds the records shared by the drafting pipeline, the store
// and the approval API.
package models

import (
	"strings"
	"time"
)

// DraftKind records how a candidate was found.
type DraftKind string

const (
	KindKeyword DraftKind = "keyword"
	KindAccount DraftKind = "account"
)

// DraftState is the approval state of one lane of a drafted item.
type DraftState string

const (
	StatePending   DraftState = "PENDING"
	StatePosting   DraftState = "POSTING"
	StatePosted    DraftState = "POSTED"
	StateCancelled DraftState = "CANCELLED"
)

// Terminal reports whether no further approval action is allowed. POSTING is
// held by an in-flight confirm or edit and is not terminal.
func (s DraftState) Terminal() bool {
	return s == StatePosted || s == StateCancelled
}

// Lane selects which generated text an approval action targets.
type Lane string

const (
	LaneReply   Lane = "reply"
	LaneRewrite Lane = "rewrite"
)

// CandidatePost is a fetched public post. Immutable.
type CandidatePost struct {
	SourceID        string `json:"source_id"`
	AuthorHandle    string `json:"author_handle"`
	AuthorID        string `json:"author_id,omitempty"`
	AuthorAvatarURL string `json:"author_avatar_url,omitempty"`
	BodyText        string `json:"body_text"`
	PostedAt        string `json:"posted_at,omitempty"`
	OriginQuery     string `json:"origin_query"`
}

// DraftedItem is a candidate paired with generated texts awaiting approval.
type DraftedItem struct {
	SourceID        string     `json:"source_id"`
	OwnerUserID     string     `json:"owner_user_id"`
	Kind            DraftKind  `json:"kind"`
	OriginQuery     string     `json:"origin_query"`
	BodyText        string     `json:"body_text"`
	AuthorHandle    string     `json:"author_handle"`
	AuthorAvatarURL string     `json:"author_avatar_url,omitempty"`
	PostedAt        string     `json:"posted_at,omitempty"`
	DraftedReply    string     `json:"drafted_reply,omitempty"`
	ReplyState      DraftState `json:"reply_state"`
	PostedReplyID   string     `json:"posted_reply_id,omitempty"`
	DraftedRewrite  string     `json:"drafted_rewrite,omitempty"`
	RewriteState    DraftState `json:"rewrite_state,omitempty"`
	PostedRewriteID string     `json:"posted_rewrite_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// LaneState returns the state and drafted text of lane.
func (d DraftedItem) LaneState(lane Lane) (DraftState, string) {
	if lane == LaneRewrite {
		return d.RewriteState, d.DraftedRewrite
	}
	return d.ReplyState, d.DraftedReply
}

// BehavioralFact is one remembered decision or observation about a user.
type BehavioralFact struct {
	OwnerUserID string    `json:"owner_user_id"`
	Text        string    `json:"text"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Credentials are the OAuth 1.0a keys used to post on a user's behalf.
type Credentials struct {
	ClientID          string `json:"-"`
	ClientSecret      string `json:"-"`
	AccessToken       string `json:"-"`
	AccessTokenSecret string `json:"-"`
}

// Missing lists the credential fields that are blank.
func (c Credentials) Missing() []string {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"access_token", c.AccessToken},
		{"access_token_secret", c.AccessTokenSecret},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// User is a draftdesk account.
type User struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Persona        string      `json:"persona"`
	SearchKeywords []string    `json:"search_keywords"`
	Handle         string      `json:"handle"`
	Credentials    Credentials `json:"-"`
}

// TrackedAccount is a public account whose posts a user wants to reply to.
type TrackedAccount struct {
	OwnerUserID string `json:"owner_user_id"`
	Handle      string `json:"handle"`
	ExternalID  string `json:"external_id,omitempty"`
	Followers   int64  `json:"followers"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// PostType distinguishes replies from standalone rewrites in the posted tracker.
type PostType string

const (
	PostTypeReply   PostType = "reply"
	PostTypeRewrite PostType = "rewrite"
)

// PostedRecord tracks a post published through draftdesk.
type PostedRecord struct {
	OwnerUserID   string    `json:"owner_user_id"`
	ExternalID    string    `json:"external_id"`
	PostType      PostType  `json:"post_type"`
	SourceKind    DraftKind `json:"source_kind"`
	Text          string    `json:"text"`
	OriginalText  string    `json:"original_text"`
	SourceContext string    `json:"source_context"`
	PostedAt      time.Time `json:"posted_at"`
}

// Profile is the public profile of an account.
type Profile struct {
	ExternalID string `json:"external_id"`
	Handle     string `json:"handle"`
	Followers  int64  `json:"followers"`
	Bio        string `json:"bio,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// PostStats are public engagement counters of one post.
type PostStats struct {
	PostID    string `json:"post_id"`
	Text      string `json:"text"`
	Likes     int64  `json:"likes"`
	Retweets  int64  `json:"retweets"`
	Replies   int64  `json:"replies"`
	Quotes    int64  `json:"quotes"`
	Bookmarks int64  `json:"bookmarks"`
	Views     int64  `json:"views"`
}
