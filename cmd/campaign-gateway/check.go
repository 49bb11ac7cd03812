package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/campaign-gateway/internal/api/openai"
	"github.com/tjfontaine/campaign-gateway/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the upstream endpoint is reachable and serves the configured model",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	api := openai.NewClient(cfg.LLM.APIKey,
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}),
	)

	list, err := api.ListModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("list models at %s: %w", api.BaseURL(), err)
	}

	out := cmd.OutOrStdout()
	for _, m := range list.Data {
		if m.ID == cfg.LLM.Model {
			fmt.Fprintf(out, "ok: %s serves %s\n", api.BaseURL(), m.ID)
			return nil
		}
	}
	return fmt.Errorf("model %q not served by %s (%d models available)", cfg.LLM.Model, api.BaseURL(), len(list.Data))
}
