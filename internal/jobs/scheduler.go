package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"draftdesk/pkg/logging"
)

// DefaultSchedule fires the fan-out at 08:00 and 20:00 UTC.
const DefaultSchedule = "0 8,20 * * *"

// Scheduler enqueues fan_out on a cron schedule. A Redis lock per fire time
// lets exactly one replica enqueue.
type Scheduler struct {
	cron    *cron.Cron
	sched   cron.Schedule
	spec    string
	broker  *Broker
	rdb     goredis.UniversalClient
	lockTTL time.Duration
	logger  logging.Logger
	now     func() time.Time
}

func NewScheduler(broker *Broker, rdb goredis.UniversalClient, spec string, logger logging.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		sched:   sched,
		spec:    spec,
		broker:  broker,
		rdb:     rdb,
		lockTTL: time.Hour,
		logger:  logger,
		now:     time.Now,
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Fire(ctx, s.now()); err != nil {
			s.logger.WithError(err).Error("Scheduled fan-out failed")
		}
	}))
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.WithField("schedule", s.spec).Info("Fan-out scheduler started")
	s.cron.Start()
}

// Stop halts the cron and waits for a running fire to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Next returns the next n fire times after from.
func (s *Scheduler) Next(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := from.UTC()
	for i := 0; i < n; i++ {
		t = s.sched.Next(t)
		out = append(out, t)
	}
	return out
}

// Fire enqueues one fan_out for the minute containing at, unless another
// replica already did. It reports whether this call enqueued.
func (s *Scheduler) Fire(ctx context.Context, at time.Time) (bool, error) {
	slot := at.UTC().Truncate(time.Minute)
	key := s.broker.cfg.Prefix + ":schedule:fan_out:" + strconv.FormatInt(slot.Unix(), 10)
	won, err := s.rdb.SetNX(ctx, key, "1", s.lockTTL).Result()
	if err != nil {
		scheduleFires.WithLabelValues("error").Inc()
		return false, fmt.Errorf("acquire schedule lock: %w", err)
	}
	if !won {
		scheduleFires.WithLabelValues("skipped").Inc()
		s.logger.WithField("slot", slot).Debug("Fan-out already fired by another replica")
		return false, nil
	}
	job, err := s.broker.EnqueueFanOut(ctx, TriggerSchedule)
	if err != nil {
		scheduleFires.WithLabelValues("error").Inc()
		return false, err
	}
	scheduleFires.WithLabelValues("fired").Inc()
	s.logger.WithFields(logging.Fields{"job_id": job.ID, "slot": slot}).Info("Scheduled fan-out enqueued")
	return true, nil
}
