package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Issue, inspect, update, revoke and delete API keys directly against the credential store.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyGetCmd())
	cmd.AddCommand(newKeyUpdateCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyDeleteCmd())
	cmd.AddCommand(newKeyUsageCmd())
	cmd.AddCommand(newKeyRateLimitCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		params     service.IssueParams
		limit      int
		window     int
		expires    int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Long:  "Issue a new API key. The credential is shown once and cannot be retrieved again.",
		Example: `  keygate key create --owner acme --name "CI pipeline" --scope orders:read
  keygate key create --owner acme --name batch --rate-limit 600 --window 60 --expires-in-days 90`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("rate-limit") {
				params.RateLimit = &limit
			}
			if cmd.Flags().Changed("window") {
				params.WindowSeconds = &window
			}
			if cmd.Flags().Changed("expires-in-days") {
				params.ExpiresInDays = &expires
			}
			return runKeyCreate(cmd.Context(), cmd.OutOrStdout(), params, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&params.OwnerID, "owner", "", "Owner id the key belongs to (required)")
	cmd.Flags().StringVar(&params.Name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&params.Description, "description", "", "Free-form description")
	cmd.Flags().StringSliceVar(&params.Scopes, "scope", nil, "Scope tag granted to the key (repeatable)")
	cmd.Flags().IntVar(&limit, "rate-limit", 0, "Requests allowed per window (default: system default)")
	cmd.Flags().IntVar(&window, "window", 0, "Window length in seconds (default: system default)")
	cmd.Flags().IntVar(&expires, "expires-in-days", 0, "Days until the key expires (default: never)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(ctx context.Context, out io.Writer, params service.IssueParams, jsonOutput bool) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	issued, err := env.keys.Create(ctx, params)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	if jsonOutput {
		return printJSON(out, issued)
	}

	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:    %s\n", issued.Credential)
	fmt.Fprintf(out, "  ID:     %s\n", issued.Key.ID)
	fmt.Fprintf(out, "  Owner:  %s\n", issued.Key.OwnerID)
	if len(issued.Key.Scopes) > 0 {
		fmt.Fprintf(out, "  Scopes: %s\n", strings.Join(issued.Key.Scopes, ", "))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.Context(), cmd.OutOrStdout(), owner, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only list keys of this owner")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, out io.Writer, owner string, jsonOutput bool) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	keys, err := env.keys.List(ctx, owner)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		return printJSON(out, keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys issued. Use 'keygate key create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-37s %-16s %-24s %-24s %-8s\n", "ID", "OWNER", "NAME", "SCOPES", "ACTIVE")
	fmt.Fprintf(out, "%-37s %-16s %-24s %-24s %-8s\n", "--", "-----", "----", "------", "------")
	for _, k := range keys {
		fmt.Fprintf(out, "%-37s %-16s %-24s %-24s %-8s\n", k.ID, k.OwnerID, k.Name, strings.Join(k.Scopes, ","), yesNo(k.IsActive))
	}

	return nil
}

// ---------- key get ----------

func newKeyGetCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <key-id>",
		Short: "Show one API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyGet(cmd.Context(), cmd.OutOrStdout(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyGet(ctx context.Context, out io.Writer, id string, jsonOutput bool) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	key, err := env.keys.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get api key: %w", err)
	}
	if jsonOutput {
		return printJSON(out, key)
	}
	printKey(out, key)
	return nil
}

func printKey(out io.Writer, k *model.APIKey) {
	fmt.Fprintf(out, "ID:          %s\n", k.ID)
	fmt.Fprintf(out, "Owner:       %s\n", k.OwnerID)
	fmt.Fprintf(out, "Name:        %s\n", k.Name)
	if k.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", k.Description)
	}
	fmt.Fprintf(out, "Scopes:      %s\n", strings.Join(k.Scopes, ", "))
	fmt.Fprintf(out, "Rate limit:  %s\n", limitString(k))
	fmt.Fprintf(out, "Active:      %s\n", yesNo(k.IsActive))
	fmt.Fprintf(out, "Created:     %s\n", k.CreatedAt.Format(time.RFC3339))
	if k.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires:     %s\n", k.ExpiresAt.Format(time.RFC3339))
	}
	if k.LastUsedAt != nil {
		fmt.Fprintf(out, "Last used:   %s\n", k.LastUsedAt.Format(time.RFC3339))
	}
}

func limitString(k *model.APIKey) string {
	limit, window := "default", "default"
	if k.RateLimit != nil {
		limit = fmt.Sprint(*k.RateLimit)
	}
	if k.WindowSeconds != nil {
		window = fmt.Sprintf("%ds", *k.WindowSeconds)
	}
	return limit + " per " + window
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// ---------- key update ----------

func newKeyUpdateCmd() *cobra.Command {
	var (
		name, description string
		scopes            []string
		limit, window     int
		expiresAt         string
		active            bool
		u                 model.APIKeyUpdate
	)

	cmd := &cobra.Command{
		Use:   "update <key-id>",
		Short: "Update an API key",
		Example: `  keygate key update key_0123... --rate-limit 120
  keygate key update key_0123... --scope orders:read --scope orders:write
  keygate key update key_0123... --clear-expiry`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("name") {
				u.Name = &name
			}
			if f.Changed("description") {
				u.Description = &description
			}
			if f.Changed("scope") {
				u.Scopes = &scopes
			}
			if f.Changed("rate-limit") {
				u.RateLimit = &limit
			}
			if f.Changed("window") {
				u.WindowSeconds = &window
			}
			if f.Changed("active") {
				u.IsActive = &active
			}
			if f.Changed("expires-at") {
				t, err := time.Parse(time.RFC3339, expiresAt)
				if err != nil {
					return fmt.Errorf("--expires-at must be RFC3339: %w", err)
				}
				u.ExpiresAt = &t
			}
			return runKeyUpdate(cmd.Context(), cmd.OutOrStdout(), args[0], u)
		},
	}

	f := cmd.Flags()
	f.StringVar(&name, "name", "", "New name")
	f.StringVar(&description, "description", "", "New description")
	f.StringSliceVar(&scopes, "scope", nil, "Replace scopes (repeatable)")
	f.IntVar(&limit, "rate-limit", 0, "Requests allowed per window")
	f.IntVar(&window, "window", 0, "Window length in seconds")
	f.StringVar(&expiresAt, "expires-at", "", "Expiry as RFC3339 timestamp")
	f.BoolVar(&active, "active", true, "Activate or deactivate the key")
	f.BoolVar(&u.ClearRateLimit, "clear-rate-limit", false, "Fall back to the system default limit")
	f.BoolVar(&u.ClearWindow, "clear-window", false, "Fall back to the system default window")
	f.BoolVar(&u.ClearExpiry, "clear-expiry", false, "Remove the expiry")

	return cmd
}

func runKeyUpdate(ctx context.Context, out io.Writer, id string, u model.APIKeyUpdate) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	key, err := env.keys.Update(ctx, id, u)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	printKey(out, key)
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key, rejecting every further request made with it. The key and its history are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	return cmd
}

func runKeyRevoke(ctx context.Context, out io.Writer, id string) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	if _, err := env.keys.Revoke(ctx, id); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Fprintf(out, "Revoked API key %s\n", id)
	return nil
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key permanently",
		Long:  "Delete an API key. Its usage history is retained for audit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyDelete(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	return cmd
}

func runKeyDelete(ctx context.Context, out io.Writer, id string) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.keys.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}

	fmt.Fprintf(out, "Deleted API key %s\n", id)
	return nil
}

// ---------- key usage ----------

func newKeyUsageCmd() *cobra.Command {
	var (
		from, to      string
		limit, offset int
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "usage <key-id>",
		Short: "Show usage history of an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := model.UsageFilter{APIKeyID: args[0], Limit: limit, Offset: offset}
			var err error
			if f.From, err = parseOptionalTime("--from", from); err != nil {
				return err
			}
			if f.To, err = parseOptionalTime("--to", to); err != nil {
				return err
			}
			return runKeyUsage(cmd.Context(), cmd.OutOrStdout(), f, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Only rows at or after this RFC3339 time")
	cmd.Flags().StringVar(&to, "to", "", "Only rows before this RFC3339 time")
	cmd.Flags().IntVar(&limit, "limit", service.DefaultUsageLimit, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func parseOptionalTime(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", flag, err)
	}
	return t, nil
}

func runKeyUsage(ctx context.Context, out io.Writer, f model.UsageFilter, jsonOutput bool) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	page, err := env.keys.Usage(ctx, f)
	if err != nil {
		return fmt.Errorf("list usage: %w", err)
	}

	if jsonOutput {
		return printJSON(out, page)
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No usage recorded.")
		return nil
	}

	fmt.Fprintf(out, "%-25s %-7s %-32s %-6s %-10s\n", "TIME", "METHOD", "ENDPOINT", "STATUS", "SECONDS")
	for _, u := range page.Items {
		fmt.Fprintf(out, "%-25s %-7s %-32s %-6d %-10.4f\n",
			u.Timestamp.Format(time.RFC3339), u.Method, u.Endpoint, u.StatusCode, u.ResponseTimeSeconds)
	}
	fmt.Fprintf(out, "\nShowing %d of %d\n", len(page.Items), page.Total)
	return nil
}

// ---------- key rate-limit ----------

func newKeyRateLimitCmd() *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "rate-limit <key-id>",
		Short: "Show the current rate limit window of an API key",
		Long:  "Show the current window of a key on one endpoint without counting a request. Only meaningful with a shared Redis counter store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRateLimit(cmd.Context(), cmd.OutOrStdout(), args[0], endpoint)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "/", "Endpoint bucket, e.g. a route prefix")

	return cmd
}

func runKeyRateLimit(ctx context.Context, out io.Writer, id, endpoint string) error {
	env, err := openKeyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	status, err := env.keys.RateLimitStatus(ctx, id, endpoint)
	if err != nil && status.APIKeyID == "" {
		return fmt.Errorf("rate limit status: %w", err)
	}
	return printJSON(out, status)
}
