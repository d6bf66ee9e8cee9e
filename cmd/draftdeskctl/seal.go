package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"draftdesk/pkg/config"
	"draftdesk/pkg/secrets"
)

func newSealCmd() *cobra.Command {
	var master string
	cmd := &cobra.Command{
		Use:   "seal [value]",
		Short: "Encrypt a credential for the users table",
		Long:  "Seal prints the enc:v1 form of a posting credential. With no argument the value is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if master == "" {
				return fmt.Errorf("--secret or CREDENTIALS_SECRET is required")
			}
			c, err := secrets.NewCipher([]byte(master), secrets.PurposeOAuth)
			if err != nil {
				return err
			}

			value := ""
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimSpace(line)
			}
			if value == "" {
				return fmt.Errorf("value is empty")
			}

			sealed, err := c.Seal(value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	cmd.Flags().StringVar(&master, "secret", config.GetEnv("CREDENTIALS_SECRET", ""), "master secret shared with the draftdesk service")
	return cmd
}
