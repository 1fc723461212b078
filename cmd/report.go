package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sdpdash/gateway"
	"sdpdash/runner"
)

func newReportCmd(a *app) *cobra.Command {
	var q runner.ReportQuery
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Browse persisted student records",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			page := s.sh.Report
			if err := page.Query(cmd.Context(), q); err != nil {
				renderToasts(cmd.ErrOrStderr(), s.sh.Toasts.History(), s.styles)
				return err
			}
			st := page.State()
			out := cmd.OutOrStdout()
			if len(st.Students) == 0 {
				fmt.Fprintln(out, s.styles.Muted.Render("No records found."))
			} else {
				fmt.Fprintln(out, studentTable(st.Students, s.styles))
			}
			fmt.Fprintln(out, s.styles.Muted.Render(fmt.Sprintf("Page %d of %d · %d records", st.Page+1, max(st.Pages(), 1), st.Total)))
			return nil
		}),
	}
	cmd.Flags().StringVar(&q.Search, "search", "", "filter by student id")
	cmd.Flags().StringVar(&q.Class, "class", "", "filter by class")
	cmd.Flags().IntVar(&q.Page, "page", 0, "page index, starting at 0")
	cmd.Flags().IntVar(&q.Size, "size", runner.DefaultPageSize, fmt.Sprintf("page size %v", runner.PageSizes))
	return cmd
}

func newClassesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List known classes",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			classes, err := s.sh.Gateway.ListClasses(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list classes: %s", gateway.UserMessage(err))
			}
			for _, c := range classes {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		}),
	}
}

func newAnalyticsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show the analytics summary",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			home := s.sh.Home
			if err := home.LoadAnalytics(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load analytics: %s", gateway.UserMessage(err))
			}
			st := home.State()
			sum := st.Analytics
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, s.styles.Title.Render("Analytics"))
			fmt.Fprintf(out, "Total students: %d\n", sum.TotalStudents)
			fmt.Fprintf(out, "Average score:  %.1f\n", sum.AverageScore)
			fmt.Fprintf(out, "Highest score:  %.0f\n", sum.HighestScore)
			fmt.Fprintf(out, "Lowest score:   %.0f\n", sum.LowestScore)
			if len(st.Bars) > 0 {
				fmt.Fprintln(out, s.styles.Title.Render("Class distribution"))
				renderBars(out, st.Bars, s.styles)
			}
			if len(sum.RecentRecords) > 0 {
				fmt.Fprintln(out, s.styles.Title.Render("Recent records"))
				fmt.Fprintln(out, studentTable(sum.RecentRecords, s.styles))
			}
			fmt.Fprintln(out, s.styles.Title.Render("Workflow"))
			for i, step := range runner.WorkflowSteps {
				fmt.Fprintf(out, "%d. %-14s %s\n", i+1, step.Name, s.styles.Muted.Render(step.Description))
			}
			return nil
		}),
	}
}

func newExportCmd(a *app) *cobra.Command {
	var (
		dir           string
		search, class string
	)
	cmd := &cobra.Command{
		Use:       "export <excel|csv|pdf>",
		Short:     "Download the filtered records",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(gateway.ExportExcel), string(gateway.ExportCSV), string(gateway.ExportPDF)},
		RunE: a.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			format := gateway.ExportFormat(strings.ToLower(args[0]))
			if !format.Valid() {
				return fmt.Errorf("unsupported format %q (expected excel, csv or pdf)", args[0])
			}
			page := s.sh.Report
			if search != "" || class != "" {
				if err := page.Query(cmd.Context(), runner.ReportQuery{Search: search, Class: class}); err != nil {
					return err
				}
			}
			path, err := page.Export(cmd.Context(), format, dir)
			renderToasts(cmd.OutOrStdout(), s.sh.Toasts.History(), s.styles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.styles.Muted.Render("Saved to "+path))
			return nil
		}),
	}
	cmd.Flags().StringVar(&dir, "out", ".", "directory to save the file in")
	cmd.Flags().StringVar(&search, "search", "", "filter by student id")
	cmd.Flags().StringVar(&class, "class", "", "filter by class")
	return cmd
}
