package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"draftdesk/pkg/logging"
	pkgredis "draftdesk/pkg/redis"
)

var ErrJobNotFound = errors.New("job not found")

type BrokerConfig struct {
	// Prefix namespaces every key.
	Prefix string
	// RecordTTL is how long job records are kept.
	RecordTTL time.Duration
	// PopTimeout bounds one blocking pop so delayed jobs get promoted.
	PopTimeout time.Duration
}

func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Prefix:     "draftdesk",
		RecordTTL:  7 * 24 * time.Hour,
		PopTimeout: 2 * time.Second,
	}
}

// Broker keeps job records as JSON in Redis, a ready list and a delayed set.
type Broker struct {
	rdb     goredis.UniversalClient
	cfg     BrokerConfig
	updates *pkgredis.TypedPubSub[Job]
	logger  logging.Logger
	now     func() time.Time
}

func NewBroker(rdb goredis.UniversalClient, cfg BrokerConfig, logger logging.Logger) *Broker {
	def := DefaultBrokerConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = def.RecordTTL
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = def.PopTimeout
	}
	return &Broker{
		rdb:     rdb,
		cfg:     cfg,
		updates: pkgredis.NewTypedPubSub[Job](rdb, logger),
		logger:  logger,
		now:     time.Now,
	}
}

func (b *Broker) keyJob(id string) string     { return b.cfg.Prefix + ":job:" + id }
func (b *Broker) keyQueue() string            { return b.cfg.Prefix + ":queue" }
func (b *Broker) keyDelayed() string          { return b.cfg.Prefix + ":delayed" }
func (b *Broker) channelJob(id string) string { return b.cfg.Prefix + ":job_updates:" + id }

// Enqueue creates a QUEUED job and makes it ready.
func (b *Broker) Enqueue(ctx context.Context, typ Type, owner string, trigger Trigger) (Job, error) {
	if !typ.Valid() {
		return Job{}, fmt.Errorf("unknown job type %q", typ)
	}
	now := b.now().UTC()
	job := Job{
		ID:          uuid.NewString(),
		Type:        typ,
		OwnerUserID: owner,
		Status:      StatusQueued,
		Trigger:     trigger,
		CreatedAt:   now,
	}
	if err := b.Save(ctx, &job); err != nil {
		return Job{}, err
	}
	if err := b.rdb.LPush(ctx, b.keyQueue(), job.ID).Err(); err != nil {
		return Job{}, fmt.Errorf("push job %s: %w", job.ID, err)
	}
	jobsEnqueued.WithLabelValues(string(typ), string(trigger)).Inc()
	return job, nil
}

// Save stamps UpdatedAt, stores the record and announces the change.
func (b *Broker) Save(ctx context.Context, job *Job) error {
	job.UpdatedAt = b.now().UTC()
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := b.rdb.Set(ctx, b.keyJob(job.ID), payload, b.cfg.RecordTTL).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	if err := b.updates.Publish(ctx, b.channelJob(job.ID), *job); err != nil {
		b.logger.WithError(err).WithField("job_id", job.ID).Debug("Failed to publish job update")
	}
	return nil
}

func (b *Broker) Get(ctx context.Context, id string) (Job, error) {
	raw, err := b.rdb.Get(ctx, b.keyJob(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// Delay stores job and schedules it to become ready at at.
func (b *Broker) Delay(ctx context.Context, job *Job, at time.Time) error {
	if err := b.Save(ctx, job); err != nil {
		return err
	}
	err := b.rdb.ZAdd(ctx, b.keyDelayed(), goredis.Z{
		Score:  float64(at.UnixMilli()),
		Member: job.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("delay job %s: %w", job.ID, err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose time has come onto the ready list. The
// ZREM result decides which replica promotes a given job.
func (b *Broker) PromoteDue(ctx context.Context) (int, error) {
	ids, err := b.rdb.ZRangeByScore(ctx, b.keyDelayed(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(b.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed jobs: %w", err)
	}
	promoted := 0
	for _, id := range ids {
		removed, err := b.rdb.ZRem(ctx, b.keyDelayed(), id).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed job %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		if err := b.rdb.LPush(ctx, b.keyQueue(), id).Err(); err != nil {
			return promoted, fmt.Errorf("promote job %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

// Dequeue promotes due jobs then blocks up to PopTimeout for a ready one.
// ok is false when nothing became ready in time.
func (b *Broker) Dequeue(ctx context.Context) (job Job, ok bool, err error) {
	if _, err := b.PromoteDue(ctx); err != nil {
		return Job{}, false, err
	}
	res, err := b.rdb.BRPop(ctx, b.cfg.PopTimeout, b.keyQueue()).Result()
	if errors.Is(err, goredis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("pop job: %w", err)
	}
	// res is [key, value].
	id := res[1]
	job, err = b.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		b.logger.WithField("job_id", id).Warn("Dropping queued job with expired record")
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

// Depth reports the ready and delayed queue sizes.
func (b *Broker) Depth(ctx context.Context) (ready, delayed int64, err error) {
	ready, err = b.rdb.LLen(ctx, b.keyQueue()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("queue length: %w", err)
	}
	delayed, err = b.rdb.ZCard(ctx, b.keyDelayed()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("delayed length: %w", err)
	}
	return ready, delayed, nil
}

// Watch calls fn with every update of job id until fn returns false or ctx ends.
func (b *Broker) Watch(ctx context.Context, id string, fn func(Job) bool) error {
	return b.updates.Subscribe(ctx, b.channelJob(id), fn)
}

func (b *Broker) EnqueueFanOut(ctx context.Context, trigger Trigger) (Job, error) {
	return b.Enqueue(ctx, TypeFanOut, "", trigger)
}

// EnqueueUser queues both per-user scrape jobs.
func (b *Broker) EnqueueUser(ctx context.Context, userID string, trigger Trigger) ([]Job, error) {
	var out []Job
	for _, typ := range []Type{TypeScrapeUser, TypeScrapeKeyword} {
		job, err := b.Enqueue(ctx, typ, userID, trigger)
		if err != nil {
			return out, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (b *Broker) EnqueueStats(ctx context.Context, userID string, trigger Trigger) (Job, error) {
	return b.Enqueue(ctx, TypeIngestStats, userID, trigger)
}

func (b *Broker) EnqueuePersona(ctx context.Context, userID string, trigger Trigger) (Job, error) {
	return b.Enqueue(ctx, TypeBuildPersona, userID, trigger)
}
