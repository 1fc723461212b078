package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sdpdash/changelog"
	"sdpdash/gateway"
	"sdpdash/notify"
	"sdpdash/search"
	"sdpdash/settings"
)

func newNotificationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			s.sh.Poller.Refresh(cmd.Context())
			renderNotifications(cmd.OutOrStdout(), s.sh.Poller.State(), s.styles)
			return nil
		}),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "read <id>",
		Short: "Mark one notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid notification id %q", args[0])
			}
			if err := s.sh.Poller.MarkRead(cmd.Context(), id); err != nil {
				return fmt.Errorf("%s", gateway.UserMessage(err))
			}
			renderNotifications(cmd.OutOrStdout(), s.sh.Poller.State(), s.styles)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			if err := s.sh.Poller.MarkAllRead(cmd.Context()); err != nil {
				return fmt.Errorf("%s", gateway.UserMessage(err))
			}
			renderNotifications(cmd.OutOrStdout(), s.sh.Poller.State(), s.styles)
			return nil
		}),
	})
	return cmd
}

func renderNotifications(w io.Writer, st notify.State, styles settings.Styles) {
	if st.Status == notify.Disabled {
		fmt.Fprintln(w, styles.Muted.Render("Notifications are disabled. Enable them with: sdp settings notifications on"))
		return
	}
	fmt.Fprintln(w, styles.Title.Render(fmt.Sprintf("Notifications (%d unread)", st.Unread)))
	for _, n := range st.Notifications {
		marker := styles.Accent.Render("●")
		if n.Read {
			marker = styles.Muted.Render("○")
		}
		when := n.CreatedAt
		if ts, ok := n.Created(); ok {
			when = ts.Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s #%d [%s] %s %s\n", marker, n.ID, n.Type, n.Message, styles.Muted.Render(when))
	}
}

func newChangelogCmd(a *app) *cobra.Command {
	var (
		filter string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Show release notes",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			f, err := changelog.ParseFilter(filter)
			if err != nil {
				return err
			}
			feed := s.sh.Feed
			feed.SetFilter(f)
			out := cmd.OutOrStdout()

			if !follow {
				if err := feed.Load(cmd.Context()); err != nil {
					return fmt.Errorf("failed to load changelog: %s", gateway.UserMessage(err))
				}
				for _, e := range feed.Filtered() {
					renderEntry(out, e, s.styles)
				}
				return nil
			}

			// Entries only grow at the front once seeded, so the new ones
			// are everything ahead of the previous length.
			ch, cancel := feed.SubscribeEntries()
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- feed.Run(cmd.Context()) }()

			seen := 0
			for {
				select {
				case entries, ok := <-ch:
					if !ok {
						return <-done
					}
					for _, e := range changelog.ApplyFilter(entries[:max(len(entries)-seen, 0)], f) {
						renderEntry(out, e, s.styles)
					}
					seen = len(entries)
				case err := <-done:
					return err
				}
			}
		}),
	}
	cmd.Flags().StringVar(&filter, "filter", "ALL", "ALL, FRONTEND or BACKEND")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing new entries as they are published")
	return cmd
}

func renderEntry(w io.Writer, e gateway.ChangelogEntry, styles settings.Styles) {
	fmt.Fprintf(w, "%s %s %s\n  %s\n",
		styles.Title.Render("v"+e.Version),
		styles.Accent.Render(string(e.Component)),
		styles.Muted.Render(e.ReleaseDate),
		e.Changes)
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search pages, actions and students",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			q := strings.Join(args, " ")
			results := search.Lookup(cmd.Context(), s.sh.Gateway, q)
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, s.styles.Muted.Render("No results"))
				return nil
			}
			var group search.Group
			for _, r := range results {
				if r.Group != group {
					group = r.Group
					fmt.Fprintln(out, s.styles.Title.Render(string(group)))
				}
				fmt.Fprintf(out, "  %s %s %s\n", r.Label, s.styles.Muted.Render(r.Detail), s.styles.Accent.Render(r.Route))
			}
			return nil
		}),
	}
}

func newFeatureCmd(a *app) *cobra.Command {
	var fr gateway.FeatureRequest
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "Submit a feature request",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			err := s.sh.Home.SubmitFeatureRequest(cmd.Context(), fr)
			renderToasts(cmd.OutOrStdout(), s.sh.Toasts.History(), s.styles)
			return err
		}),
	}
	cmd.Flags().StringVar(&fr.Title, "title", "", "short title")
	cmd.Flags().StringVar(&fr.Description, "description", "", "what you would like")
	cmd.Flags().StringVar(&fr.Email, "email", "", "contact email (optional)")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		stage string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded stage and pipeline runs",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			out := cmd.OutOrStdout()
			if stage != "" {
				steps, err := s.sh.Store.GetStageHistory(stage, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s.styles.Title.Render("Executions of "+stage))
				for _, st := range steps {
					d := "-"
					if st.Duration != nil {
						d = *st.Duration
					}
					fmt.Fprintf(out, "run #%d %-8s %s → %s %s\n", st.RunID, st.Status, st.Input, st.Output, s.styles.Muted.Render(d))
				}
				return nil
			}

			runs, err := s.sh.Store.GetRuns(limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, s.styles.Title.Render("Runs"))
			for _, r := range runs {
				d := "-"
				if r.Duration != nil {
					d = *r.Duration
				}
				fmt.Fprintf(out, "#%d %-8s %-8s %s %s\n", r.ID, r.Kind, r.Status, r.Input, s.styles.Muted.Render(d))
			}

			stats, err := s.sh.Store.GetStageStats()
			if err != nil {
				return err
			}
			if len(stats) > 0 {
				fmt.Fprintln(out, s.styles.Title.Render("Stages"))
			}
			for _, st := range stats {
				fmt.Fprintf(out, "%-8s %d runs, %d ok, %d failed, avg %s\n", st.Stage, st.Runs, st.Successes, st.Failures, st.AvgDuration.Round(time.Millisecond))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().StringVar(&stage, "stage", "", "show executions of one stage (generate, process, upload)")
	return cmd
}
