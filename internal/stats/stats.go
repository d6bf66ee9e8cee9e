// Package stats feeds the engagement of recently published posts back into
// behavioral memory.
package stats

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"draftdesk/internal/jobs"
	"draftdesk/internal/models"
	"draftdesk/internal/store"
	"draftdesk/pkg/logging"
)

// RecentLimit is how many of the latest posted items one run covers.
const RecentLimit = 50

type PostedLister interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	ListRecentPosted(ctx context.Context, owner string, limit int) ([]models.PostedRecord, error)
}

// Source is the stats side of fetcher.Session.
type Source interface {
	PostStats(ctx context.Context, postID string) (models.PostStats, bool)
}

type FactRecorder interface {
	Record(ctx context.Context, owner, text string)
}

// Summary is stored as the ingest_stats job result.
type Summary struct {
	UserID            string  `json:"user_id"`
	PostsProcessed    int     `json:"posts_processed"`
	SuccessfulFetches int     `json:"successful_fetches"`
	FailedFetches     int     `json:"failed_fetches"`
	TotalLikes        int64   `json:"total_likes"`
	TotalRetweets     int64   `json:"total_retweets"`
	TotalReplies      int64   `json:"total_replies"`
	TotalQuotes       int64   `json:"total_quotes"`
	TotalBookmarks    int64   `json:"total_bookmarks"`
	TotalViews        int64   `json:"total_views"`
	AvgEngagement     float64 `json:"avg_engagement"`
}

type Ingester struct {
	store   PostedLister
	sources func() Source
	facts   FactRecorder
	logger  logging.Logger
}

func NewIngester(st PostedLister, sources func() Source, facts FactRecorder, logger logging.Logger) *Ingester {
	return &Ingester{store: st, sources: sources, facts: facts, logger: logger}
}

// Fact renders the memory line for one post's engagement.
func Fact(text string, st models.PostStats) string {
	return fmt.Sprintf("Tweet: '%s' - %d likes, %d views", text, st.Likes, st.Views)
}

// Ingest fetches stats for the user's latest posts, records one fact per
// post and returns the totals. Individual fetch failures are counted, not
// returned.
func (in *Ingester) Ingest(ctx context.Context, userID string) (Summary, error) {
	if _, err := in.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return Summary{}, jobs.Permanent(err)
		}
		return Summary{}, err
	}
	recent, err := in.store.ListRecentPosted(ctx, userID, RecentLimit)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{UserID: userID, PostsProcessed: len(recent)}
	if len(recent) == 0 {
		in.logger.WithField("user_id", userID).Info("No posted items to ingest")
		return sum, nil
	}

	src := in.sources()
	fetched := make([]*models.PostStats, len(recent))
	var g errgroup.Group
	for i, rec := range recent {
		g.Go(func() error {
			st, ok := src.PostStats(ctx, rec.ExternalID)
			if ok {
				fetched[i] = &st
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, st := range fetched {
		if st == nil {
			sum.FailedFetches++
			continue
		}
		sum.SuccessfulFetches++
		sum.TotalLikes += st.Likes
		sum.TotalRetweets += st.Retweets
		sum.TotalReplies += st.Replies
		sum.TotalQuotes += st.Quotes
		sum.TotalBookmarks += st.Bookmarks
		sum.TotalViews += st.Views
		in.facts.Record(ctx, userID, Fact(recent[i].Text, *st))
	}
	if sum.SuccessfulFetches > 0 {
		engagement := sum.TotalLikes + sum.TotalRetweets + sum.TotalReplies + sum.TotalQuotes + sum.TotalBookmarks
		sum.AvgEngagement = float64(engagement) / float64(sum.SuccessfulFetches)
	}

	in.logger.WithFields(logging.Fields{
		"user_id":    userID,
		"posts":      sum.PostsProcessed,
		"successful": sum.SuccessfulFetches,
		"failed":     sum.FailedFetches,
	}).Info("Stats ingestion complete")
	return sum, nil
}

// HandleIngestStats is the ingest_stats job handler.
func (in *Ingester) HandleIngestStats(ctx context.Context, job jobs.Job) (any, error) {
	return in.Ingest(ctx, job.OwnerUserID)
}
