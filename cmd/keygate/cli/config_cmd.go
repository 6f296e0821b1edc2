package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/service"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Keygate configuration",
		Long:  "Initialize a configuration file with fresh secrets or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force  bool
		path   string
		prompt bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a keygate.yaml configuration file",
		Long: `Create a configuration file with defaults and freshly generated secrets.
With --prompt the hash secret is read from the terminal instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), path, force, prompt)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVarP(&path, "output", "o", "keygate.yaml", "Path of the config file to write")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Prompt for the hash secret instead of generating one")

	return cmd
}

func runConfigInit(out io.Writer, path string, force, prompt bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	cfg := config.DefaultYAMLConfig()

	var err error
	if prompt {
		cfg.Auth.HashSecret, err = promptSecret(out)
	} else {
		cfg.Auth.HashSecret, err = randomSecret()
	}
	if err != nil {
		return err
	}
	if cfg.Auth.AdminJWTSecret, err = randomSecret(); err != nil {
		return err
	}

	if err := config.WriteDefaultConfig(path, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintln(out, "Add your upstream routes, then run 'keygate serve'.")
	fmt.Fprintln(out, "Changing auth.hash_secret later invalidates every issued key.")
	return nil
}

func promptSecret(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--prompt requires an interactive terminal")
	}

	fmt.Fprint(out, "Hash secret: ")
	secret, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	fmt.Fprintln(out)

	fmt.Fprint(out, "Confirm hash secret: ")
	confirm, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(out)

	if string(secret) != string(confirm) {
		return "", fmt.Errorf("secrets do not match")
	}
	if len(secret) < service.MinHashSecretLen {
		return "", fmt.Errorf("hash secret must be at least %d characters", service.MinHashSecretLen)
	}
	return string(secret), nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout(), reveal)
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secrets instead of masking them")

	return cmd
}

func runConfigShow(out io.Writer, reveal bool) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if _, statErr := os.Stat(configFile); configFile != "" && statErr == nil {
		fmt.Fprintf(out, "# Config file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "# Config file: (none found, using defaults and environment)")
	}

	if !reveal {
		cfg.Auth.HashSecret = mask(cfg.Auth.HashSecret)
		cfg.Auth.AdminJWTSecret = mask(cfg.Auth.AdminJWTSecret)
		cfg.Store.DSN = mask(cfg.Store.DSN)
		cfg.RateLimit.RedisURL = mask(cfg.RateLimit.RedisURL)
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
