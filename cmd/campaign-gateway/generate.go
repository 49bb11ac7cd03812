package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/campaign-gateway/internal/campaign"
	"github.com/tjfontaine/campaign-gateway/internal/completion"
	"github.com/tjfontaine/campaign-gateway/internal/config"
	"github.com/tjfontaine/campaign-gateway/internal/pipeline"
	"github.com/tjfontaine/campaign-gateway/internal/tokens"
)

var (
	generateFile      string
	generateAllStages bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the pipeline once for a campaign request and print the deck",
	Long: `generate reads a campaign request (the JSON body accepted by
POST /generate-campaign) from --file, or stdin when --file is "-", runs the
six stages and prints the presenter output. With --all-stages every stage
output is printed as a JSON array instead.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateFile, "file", "f", "-", "campaign request JSON file, or - for stdin")
	generateCmd.Flags().BoolVar(&generateAllStages, "all-stages", false, "print every stage output")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	body, err := readRequest(cmd.InOrStdin(), generateFile)
	if err != nil {
		return err
	}
	req, err := campaign.DecodeRequest(body)
	if err != nil {
		return err
	}

	orchestrator := pipeline.New(completion.NewFromConfig(cfg.LLM, logger), pipeline.Options{
		Logger:          logger,
		ValidateOutputs: cfg.Pipeline.ValidateOutputs,
		Tokens:          tokens.NewCounter(),
		Model:           cfg.LLM.Model,
	})

	pc, err := orchestrator.RunWithContext(cmd.Context(), req.Prompt())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !generateAllStages {
		_, err := fmt.Fprintln(out, pc.Final())
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(pc.Outputs())
}

func readRequest(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return body, nil
}
