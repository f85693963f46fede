package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/company-scraper/internal/batch"
	"github.com/JakeFAU/company-scraper/internal/config"
	"github.com/JakeFAU/company-scraper/internal/server"
)

// enrich is a variable so tests can stub the pipeline.
var enrich = func(ctx context.Context, cfg *config.Config, input, output string) (batch.Result, error) {
	return server.Enrich(ctx, cfg, input, output)
}

func newEnrichCmd() *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enriches one workbook in the foreground",
		Long: `Reads the input workbook, looks up every company, and writes the
output workbook. Interrupting the command cancels outstanding lookups and
leaves no output file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := enrich(ctx, cfg, input, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s (sha256 %s)\n",
				len(result.Rows), result.Artifact.Location, result.Artifact.SHA256)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input .xlsx with Company Name and CIN columns")
	cmd.Flags().StringVar(&output, "output", "", "output .xlsx path")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
