package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Manage recorded usage history",
	}

	cmd.AddCommand(newUsagePruneCmd())

	return cmd
}

// ---------- usage prune ----------

func newUsagePruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete usage rows older than a retention period",
		Example: `  keygate usage prune --older-than 2160h   # keep 90 days`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsagePrune(cmd.Context(), cmd.OutOrStdout(), olderThan)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention period, e.g. 720h (required)")
	cmd.MarkFlagRequired("older-than")

	return cmd
}

func runUsagePrune(ctx context.Context, out io.Writer, olderThan time.Duration) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	n, err := env.keys.PruneUsage(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("prune usage: %w", err)
	}
	fmt.Fprintf(out, "Pruned %d usage rows older than %s\n", n, olderThan)
	return nil
}
