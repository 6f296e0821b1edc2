package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long: `Generate the OpenAPI 3.1 document served at /openapi.json: the admin API,
the built-in gated endpoints and every configured upstream route.`,
		Example: `  keygate openapi                       # print to stdout
  keygate openapi -o openapi.json
  keygate openapi --base-url https://gw.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd.OutOrStdout(), baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to advertise in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write document to file instead of stdout")

	return cmd
}

func runOpenAPI(out io.Writer, baseURL, outputFile string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	routes := make([]openapi.Route, len(cfg.Routes))
	for i, r := range cfg.Routes {
		routes[i] = openapi.Route{Prefix: r.Prefix, RequiredScope: r.RequiredScope, Upstream: r.Upstream}
	}
	doc := openapi.Generate(openapi.Options{
		BaseURL:          baseURL,
		Version:          versionString(),
		CredentialHeader: cfg.Auth.Header,
		Routes:           routes,
	})

	jsonBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi document: %w", err)
	}
	if outputFile != "" {
		if err := os.WriteFile(outputFile, jsonBytes, 0644); err != nil {
			return fmt.Errorf("write %s: %w", outputFile, err)
		}
		fmt.Fprintf(out, "Wrote %s\n", outputFile)
		return nil
	}
	fmt.Fprintln(out, string(jsonBytes))
	return nil
}
