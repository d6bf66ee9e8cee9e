package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"
	"golang.org/x/sync/errgroup"

	"draftdesk/internal/events"
	"draftdesk/pkg/logging"
)

// Handler runs one attempt of a job. The returned value is stored as the
// job result on success.
type Handler func(ctx context.Context, job Job) (any, error)

type OutcomePublisher interface {
	PublishJobOutcome(ctx context.Context, o events.JobOutcome)
}

type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	// BaseDelay is the first retry delay; later ones double up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// AttemptTimeout bounds a single handler run.
	AttemptTimeout time.Duration
	// IdleBackoff is slept after a broker error.
	IdleBackoff time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:    4,
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 10 * time.Minute,
		IdleBackoff:    time.Second,
	}
}

// Worker pulls jobs from the broker and runs one attempt per dispatch.
// Retries are parked in the broker's delayed set, so a worker slot is never
// held through a backoff and a restart resumes them.
type Worker struct {
	broker    *Broker
	limiter   *Limiter
	handlers  map[Type]Handler
	cfg       WorkerConfig
	timeout   failsafe.Executor[any]
	persist   failsafe.Executor[any]
	publisher OutcomePublisher
	logger    logging.Logger
}

func NewWorker(broker *Broker, limiter *Limiter, cfg WorkerConfig, publisher OutcomePublisher, logger logging.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = def.IdleBackoff
	}

	// Broker writes that schedule or finish a job are retried briefly so a
	// Redis blip does not strand the record.
	persistPolicy := retrypolicy.NewBuilder[any]().
		WithMaxAttempts(3).
		WithBackoff(50*time.Millisecond, 500*time.Millisecond).
		ReturnLastFailure().
		Build()

	return &Worker{
		broker:    broker,
		limiter:   limiter,
		handlers:  make(map[Type]Handler),
		cfg:       cfg,
		timeout:   failsafe.With[any](timeout.New[any](cfg.AttemptTimeout)),
		persist:   failsafe.With[any](persistPolicy),
		publisher: publisher,
		logger:    logger,
	}
}

// Handle registers h for typ. It must be called before Run.
func (w *Worker) Handle(typ Type, h Handler) {
	w.handlers[typ] = h
}

// Run starts Concurrency loops and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WithField("concurrency", w.cfg.Concurrency).Info("Job worker started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	w.logger.Info("Job worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		job, ok, err := w.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).WithField("slot", slot).Warn("Dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.IdleBackoff):
			}
			continue
		}
		if !ok {
			continue
		}
		w.Dispatch(ctx, job)
	}
}

// Dispatch applies the fleet-wide rate limit and runs job if allowed. A
// denied job goes back to the delayed set without consuming an attempt.
func (w *Worker) Dispatch(ctx context.Context, job Job) {
	log := w.jobLogger(job)
	if w.limiter != nil {
		allowed, retryAt, err := w.limiter.Allow(ctx, job.Type)
		if err != nil {
			log.WithError(err).Warn("Rate limiter unavailable, dispatching anyway")
		} else if !allowed {
			jobsRateLimited.WithLabelValues(string(job.Type)).Inc()
			if job.Status != StatusRetryQueued {
				job.Status = StatusQueued
			}
			if err := w.broker.Delay(ctx, &job, retryAt); err != nil {
				log.WithError(err).Error("Failed to defer rate-limited job")
				return
			}
			log.WithField("retry_at", retryAt).Debug("Job deferred by rate limit")
			return
		}
	}
	w.Execute(ctx, &job)
}

// Execute runs one attempt of job. The attempt marks it RUNNING. A retryable
// failure with attempts left marks it RETRY_QUEUED and parks it in the delayed
// set; anything else finishes it as SUCCEEDED or FAILED.
func (w *Worker) Execute(ctx context.Context, job *Job) {
	log := w.jobLogger(*job)
	h, ok := w.handlers[job.Type]
	if !ok {
		w.finish(ctx, job, nil, Permanent(fmt.Errorf("no handler for job type %q", job.Type)), log)
		return
	}

	job.AttemptCount++
	job.Status = StatusRunning
	if err := w.broker.Save(ctx, job); err != nil {
		log.WithError(err).Warn("Failed to save job state")
	}

	start := time.Now()
	result, err := w.timeout.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return w.attempt(exec.Context(), h, *job)
	})
	jobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	jobAttempts.WithLabelValues(string(job.Type), outcome).Inc()

	switch {
	case err != nil && ctx.Err() != nil:
		w.requeue(job, log)
	case err != nil && !errors.Is(err, ErrPermanent) && job.AttemptCount < w.cfg.MaxAttempts:
		w.retry(ctx, job, err, log)
	default:
		w.finish(ctx, job, result, err, log)
	}
}

// RetryDelay is the backoff before attempt+1: BaseDelay doubled per prior
// attempt, capped at MaxDelay.
func (w *Worker) RetryDelay(attempt int) time.Duration {
	d := w.cfg.BaseDelay
	for i := 1; i < attempt && d < w.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > w.cfg.MaxDelay {
		d = w.cfg.MaxDelay
	}
	return d
}

func (w *Worker) retry(ctx context.Context, job *Job, cause error, log logging.Entry) {
	delay := w.RetryDelay(job.AttemptCount)
	job.Status = StatusRetryQueued
	job.LastError = cause.Error()
	at := w.broker.now().Add(delay)
	err := w.persist.WithContext(ctx).Run(func() error {
		return w.broker.Delay(ctx, job, at)
	})
	if err != nil {
		log.WithError(err).Error("Failed to schedule job retry")
		return
	}
	log.WithFields(logging.Fields{
		"attempt": job.AttemptCount,
		"delay":   delay,
	}).WithError(cause).Warn("Job attempt failed, retrying")
}

func (w *Worker) attempt(ctx context.Context, h Handler, job Job) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.jobLogger(job).WithField("stack", string(debug.Stack())).Errorf("Job handler panic: %v", r)
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) finish(ctx context.Context, job *Job, result any, err error, log logging.Entry) {
	if err == nil {
		job.Status = StatusSucceeded
		job.LastError = ""
		if result != nil {
			raw, mErr := json.Marshal(result)
			if mErr != nil {
				log.WithError(mErr).Warn("Job result is not encodable")
			} else {
				job.Result = raw
			}
		}
		log.WithField("attempts", job.AttemptCount).Info("Job succeeded")
	} else {
		job.Status = StatusFailed
		job.LastError = err.Error()
		log.WithError(err).WithField("attempts", job.AttemptCount).Error("Job failed")
	}
	sErr := w.persist.WithContext(ctx).Run(func() error {
		return w.broker.Save(ctx, job)
	})
	if sErr != nil {
		log.WithError(sErr).Error("Failed to save final job state")
	}
	jobsFinished.WithLabelValues(string(job.Type), string(job.Status)).Inc()
	if w.publisher != nil {
		w.publisher.PublishJobOutcome(ctx, events.JobOutcome{
			JobID:       job.ID,
			Type:        string(job.Type),
			OwnerUserID: job.OwnerUserID,
			Status:      string(job.Status),
			Attempts:    job.AttemptCount,
			Error:       job.LastError,
		})
	}
}

// requeue hands a job interrupted by shutdown back to the queue. The
// interrupted attempt is not counted.
func (w *Worker) requeue(job *Job, log logging.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job.AttemptCount--
	if job.AttemptCount > 0 {
		job.Status = StatusRetryQueued
	} else {
		job.Status = StatusQueued
	}
	if err := w.broker.Delay(ctx, job, time.Now()); err != nil {
		log.WithError(err).Error("Failed to requeue interrupted job")
		return
	}
	log.Info("Requeued job interrupted by shutdown")
}

func (w *Worker) jobLogger(job Job) logging.Entry {
	return w.logger.WithFields(logging.Fields{
		"job_id":  job.ID,
		"type":    job.Type,
		"user_id": job.OwnerUserID,
	})
}
