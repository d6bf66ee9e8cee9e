package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"draftdesk/internal/jobs"
	"draftdesk/pkg/config"
)

func newScheduleCmd(env *cliEnv) *cobra.Command {
	var (
		spec  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the next fan-out fire times (UTC)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := jobs.NewScheduler(nil, nil, spec, env.logger)
			if err != nil {
				return err
			}
			for _, t := range s.Next(time.Now(), count) {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "spec", config.GetEnv("FANOUT_SCHEDULE", jobs.DefaultSchedule), "cron expression")
	cmd.Flags().IntVarP(&count, "count", "n", 4, "number of fire times")
	return cmd
}
