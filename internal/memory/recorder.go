package memory

import (
	"context"

	"draftdesk/pkg/logging"
)

// Recorder appends facts without letting a memory outage fail the caller.
type Recorder struct {
	store  Store
	logger logging.Logger
}

func NewRecorder(store Store, logger logging.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record writes text once. Failures are logged and counted, never retried.
func (r *Recorder) Record(ctx context.Context, owner, text string) {
	if err := r.store.Add(ctx, owner, text); err != nil {
		factWrites.WithLabelValues("error").Inc()
		r.logger.WithError(err).WithField("user_id", owner).Warn("Failed to record behavioral fact")
		return
	}
	factWrites.WithLabelValues("ok").Inc()
	r.logger.WithField("user_id", owner).Debug("Recorded behavioral fact")
}
