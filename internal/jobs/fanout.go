package jobs

import (
	"context"
	"fmt"

	"draftdesk/pkg/logging"
)

type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Enqueuer is the write side of Broker used by the fan-out handler.
type Enqueuer interface {
	EnqueueUser(ctx context.Context, userID string, trigger Trigger) ([]Job, error)
}

// FanOutResult is stored as the fan_out job result.
type FanOutResult struct {
	UsersProcessed int `json:"users_processed"`
	UsersFailed    int `json:"users_failed"`
}

// FanOutHandler enqueues both scrape jobs for every user. It never waits on
// the jobs it creates.
func FanOutHandler(users UserLister, enq Enqueuer, logger logging.Logger) Handler {
	return func(ctx context.Context, job Job) (any, error) {
		ids, err := users.ListUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		var res FanOutResult
		for _, id := range ids {
			if _, err := enq.EnqueueUser(ctx, id, TriggerFanOut); err != nil {
				res.UsersFailed++
				logger.WithError(err).WithField("user_id", id).Warn("Failed to enqueue user jobs")
				continue
			}
			res.UsersProcessed++
		}
		logger.WithFields(logging.Fields{
			"job_id":          job.ID,
			"users_processed": res.UsersProcessed,
			"users_failed":    res.UsersFailed,
		}).Info("Fan-out complete")
		return res, nil
	}
}
