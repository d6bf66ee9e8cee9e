package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"draftdesk/internal/jobs"
	"draftdesk/pkg/config"
	"draftdesk/pkg/logging"
	pkgredis "draftdesk/pkg/redis"
)

// cliEnv carries the persistent flags and the Redis dialer shared by every
// subcommand.
type cliEnv struct {
	redisURL string
	prefix   string
	output   string
	logger   logging.Logger
	dial     func(ctx context.Context, url string) (goredis.UniversalClient, error)
}

// NewRootCmd returns the root command for the draftdesk operator CLI.
func NewRootCmd() *cobra.Command {
	logger := logging.NewLoggerWithComponent("draftdeskctl")
	config.LoadEnv(logger)
	return newRootCmd(&cliEnv{
		logger: logger,
		dial: func(ctx context.Context, url string) (goredis.UniversalClient, error) {
			return pkgredis.Connect(ctx, pkgredis.Config{URL: url})
		},
	})
}

func newRootCmd(env *cliEnv) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "draftdeskctl",
		Short:         "draftdesk operator tool",
		Long:          "Trigger and inspect draftdesk jobs, preview the fan-out schedule and apply the database schema.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&env.redisURL, "redis-url", config.GetEnv("REDIS_URL", "redis://localhost:6379/0"), "Redis URL of the job broker")
	rootCmd.PersistentFlags().StringVar(&env.prefix, "prefix", config.GetEnv("JOB_PREFIX", "draftdesk"), "job key prefix")
	rootCmd.PersistentFlags().StringVar(&env.output, "output", "text", "output format: json|text")

	rootCmd.AddCommand(newFanOutCmd(env))
	rootCmd.AddCommand(newRunUserCmd(env))
	rootCmd.AddCommand(newIngestStatsCmd(env))
	rootCmd.AddCommand(newBuildPersonaCmd(env))
	rootCmd.AddCommand(newJobCmd(env))
	rootCmd.AddCommand(newScheduleCmd(env))
	rootCmd.AddCommand(newMigrateCmd(env))
	rootCmd.AddCommand(newSealCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// broker dials Redis and returns a broker plus its closer.
func (e *cliEnv) broker(ctx context.Context) (*jobs.Broker, func(), error) {
	rdb, err := e.dial(ctx, e.redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	cfg := jobs.DefaultBrokerConfig()
	cfg.Prefix = e.prefix
	return jobs.NewBroker(rdb, cfg, e.logger), func() { _ = rdb.Close() }, nil
}

func (e *cliEnv) printJobs(w io.Writer, list ...jobs.Job) error {
	if e.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(list) == 1 {
			return enc.Encode(list[0])
		}
		return enc.Encode(list)
	}
	for _, j := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\tattempts=%d", j.ID, j.Type, j.Status, j.AttemptCount)
		if j.OwnerUserID != "" {
			fmt.Fprintf(w, "\tuser=%s", j.OwnerUserID)
		}
		if j.LastError != "" {
			fmt.Fprintf(w, "\terror=%q", j.LastError)
		}
		fmt.Fprintln(w)
		if len(j.Result) > 0 && j.Status == jobs.StatusSucceeded {
			fmt.Fprintf(w, "  result: %s\n", j.Result)
		}
	}
	return nil
}
