package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version":    version,
				"commit":     commit,
				"built":      date,
				"go_version": runtime.Version(),
				"os":         runtime.GOOS,
				"arch":       runtime.GOARCH,
			}
			// Backends are best effort; a broken config file still prints a version.
			if cfg, err := loadSettings(); err == nil {
				info["store"] = cfg.Store.Driver
				info["counter"] = counterBackend(cfg.RateLimit.RedisURL)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), info)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "keygate %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:   %s\n", date)
			fmt.Fprintf(cmd.OutOrStdout(), "  go:      %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "  os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			if store, ok := info["store"]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "  store:   %s\n", store)
				fmt.Fprintf(cmd.OutOrStdout(), "  counter: %s\n", info["counter"])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	return cmd
}

func counterBackend(redisURL string) string {
	if redisURL != "" {
		return "redis"
	}
	return "memory"
}
