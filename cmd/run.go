package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sdpdash/runner"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		count     int
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run generate, process and upload in order",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			if outputDir == "" {
				outputDir = s.cfg.OutputDir
			}
			out := cmd.OutOrStdout()

			result, err := runner.RunPipeline(cmd.Context(), runner.Deps{
				Gateway: s.sh.Gateway,
				History: s.sh.Store,
				Logger:  s.logger.Named("pipeline"),
			}, runner.RunPipelineOptions{
				Count:            count,
				OutputDir:        outputDir,
				StreamToTerminal: true,
				Out:              out,
			})
			if err != nil {
				if result != nil {
					fmt.Fprintf(out, "\n📊 Run ID: %d | Status: %s | Duration: %s\n", result.RunID, result.Status, result.Duration)
				}
				return fmt.Errorf("pipeline failed: %w", err)
			}

			fmt.Fprintf(out, "\n📊 Run ID: %d | Status: %s | Duration: %s\n", result.RunID, result.Status, result.Duration)
			return nil
		}),
	}
	cmd.Flags().IntVar(&count, "count", runner.DefaultCount, "number of records to generate")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory where the backend writes generated files (default from config)")
	return cmd
}
