package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin API access",
		Long:  "Mint bearer tokens for the admin API at /api/v1/system.",
	}

	cmd.AddCommand(newAdminTokenCmd())

	return cmd
}

// ---------- admin token ----------

func newAdminTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		Example: `  keygate admin token --subject ops@example.com
  keygate admin token --subject deploy-bot --ttl 15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminToken(cmd.OutOrStdout(), subject, ttl)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Who the token is issued to (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("subject")

	return cmd
}

func runAdminToken(out io.Writer, subject string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	tokens, err := newAdminTokens(cfg)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(subject, ttl)
	if err != nil {
		return fmt.Errorf("issue admin token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
