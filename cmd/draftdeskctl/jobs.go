package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"draftdesk/internal/jobs"
)

type followFlags struct {
	follow  bool
	timeout time.Duration
}

func (f *followFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.follow, "follow", "f", false, "wait until the jobs finish")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 15*time.Minute, "how long --follow waits")
}

func newFanOutCmd(env *cliEnv) *cobra.Command {
	var ff followFlags
	cmd := &cobra.Command{
		Use:   "fanout",
		Short: "Enqueue a fan-out over every user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.enqueue(cmd, ff, func(ctx context.Context, b *jobs.Broker) ([]jobs.Job, error) {
				job, err := b.EnqueueFanOut(ctx, jobs.TriggerManual)
				return []jobs.Job{job}, err
			})
		},
	}
	ff.bind(cmd)
	return cmd
}

func newRunUserCmd(env *cliEnv) *cobra.Command {
	var ff followFlags
	cmd := &cobra.Command{
		Use:   "run-user <user_id>",
		Short: "Enqueue the keyword and tracked-account scrapes for one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.enqueue(cmd, ff, func(ctx context.Context, b *jobs.Broker) ([]jobs.Job, error) {
				return b.EnqueueUser(ctx, args[0], jobs.TriggerManual)
			})
		},
	}
	ff.bind(cmd)
	return cmd
}

func newIngestStatsCmd(env *cliEnv) *cobra.Command {
	var ff followFlags
	cmd := &cobra.Command{
		Use:   "ingest-stats <user_id>",
		Short: "Enqueue a performance-stats ingestion for one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.enqueue(cmd, ff, func(ctx context.Context, b *jobs.Broker) ([]jobs.Job, error) {
				job, err := b.EnqueueStats(ctx, args[0], jobs.TriggerManual)
				return []jobs.Job{job}, err
			})
		},
	}
	ff.bind(cmd)
	return cmd
}

func newBuildPersonaCmd(env *cliEnv) *cobra.Command {
	var ff followFlags
	cmd := &cobra.Command{
		Use:   "build-persona <user_id>",
		Short: "Enqueue a persona rebuild from the user's own posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.enqueue(cmd, ff, func(ctx context.Context, b *jobs.Broker) ([]jobs.Job, error) {
				job, err := b.EnqueuePersona(ctx, args[0], jobs.TriggerManual)
				return []jobs.Job{job}, err
			})
		},
	}
	ff.bind(cmd)
	return cmd
}

func newJobCmd(env *cliEnv) *cobra.Command {
	var ff followFlags
	cmd := &cobra.Command{
		Use:   "job <job_id>",
		Short: "Show a job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, closeFn, err := env.broker(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			job, err := b.Get(ctx, args[0])
			if errors.Is(err, jobs.ErrJobNotFound) {
				return fmt.Errorf("job %s not found (records expire after 7 days)", args[0])
			}
			if err != nil {
				return err
			}
			if ff.follow && !job.Status.Terminal() {
				if job, err = follow(ctx, b, job.ID, ff.timeout); err != nil {
					return err
				}
			}
			return env.printJobs(cmd.OutOrStdout(), job)
		},
	}
	ff.bind(cmd)
	return cmd
}

func (e *cliEnv) enqueue(cmd *cobra.Command, ff followFlags, fn func(context.Context, *jobs.Broker) ([]jobs.Job, error)) error {
	ctx := cmd.Context()
	b, closeFn, err := e.broker(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	queued, err := fn(ctx, b)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if !ff.follow {
		return e.printJobs(cmd.OutOrStdout(), queued...)
	}
	done := make([]jobs.Job, 0, len(queued))
	for _, j := range queued {
		final, err := follow(ctx, b, j.ID, ff.timeout)
		if err != nil {
			return err
		}
		done = append(done, final)
	}
	return e.printJobs(cmd.OutOrStdout(), done...)
}

// follow waits for job id to reach a terminal status. Pub/sub updates are
// backed by polling so an update published before the subscription is not
// missed.
func follow(ctx context.Context, b *jobs.Broker, id string, timeout time.Duration) (jobs.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	updates := make(chan jobs.Job, 8)
	go func() {
		_ = b.Watch(ctx, id, func(j jobs.Job) bool {
			select {
			case updates <- j:
			default:
			}
			return !j.Status.Terminal()
		})
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		job, err := b.Get(ctx, id)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return jobs.Job{}, err
		}
		if err == nil && job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return jobs.Job{}, fmt.Errorf("waiting for job %s: %w", id, ctx.Err())
		case j := <-updates:
			if j.Status.Terminal() {
				return j, nil
			}
		case <-ticker.C:
		}
	}
}
