package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sdpdash/runner"
)

func newGenerateCmd(a *app) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an Excel file of synthetic student records",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			page := s.sh.Generate
			page.SetCount(count)
			err := page.Run(cmd.Context())
			page.Wait()
			renderStage(cmd.OutOrStdout(), page.State(), s.styles)
			return err
		}),
	}
	cmd.Flags().IntVar(&count, "count", runner.DefaultCount, fmt.Sprintf("number of records (1 to %d)", runner.MaxCount))
	return cmd
}

func newProcessCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "process <file.xlsx>",
		Short: "Convert an Excel file to CSV (+10 to every score)",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			page := s.sh.Process
			if err := page.SelectFile(args[0]); err != nil {
				return err
			}
			err := page.Run(cmd.Context())
			page.Wait()
			renderStage(cmd.OutOrStdout(), page.State(), s.styles)
			return err
		}),
	}
}

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Load a CSV file into the database (+5 to every score)",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			page := s.sh.Upload
			if err := page.SelectFile(args[0]); err != nil {
				return err
			}
			err := page.Run(cmd.Context())
			page.Wait()
			renderStage(cmd.OutOrStdout(), page.State(), s.styles)
			return err
		}),
	}
}
