package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"draftdesk/pkg/config"
	"draftdesk/pkg/database"
)

func newMigrateCmd(env *cliEnv) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			cfg := database.DefaultConfig()
			cfg.URL = dsn
			db, err := database.Connect(cmd.Context(), cfg, env.logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := database.ApplySchema(cmd.Context(), db, env.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "database-url", config.GetEnv("DATABASE_URL", ""), "Postgres connection URL")
	return cmd
}
