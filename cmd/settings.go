package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"sdpdash/settings"
)

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change display preferences",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			renderSettings(cmd.OutOrStdout(), s.sh.Settings)
			return nil
		}),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:       "dark <on|off>",
			Short:     "Toggle dark mode",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"on", "off"},
			RunE: a.withSession(func(cmd *cobra.Command, args []string, s *session) error {
				on, err := parseOnOff(args[0])
				if err != nil {
					return err
				}
				if err := s.sh.Settings.SetDarkMode(on); err != nil {
					return err
				}
				renderSettings(cmd.OutOrStdout(), s.sh.Settings)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "color <name|hex>",
			Short: "Set the accent color",
			Args:  cobra.ExactArgs(1),
			RunE: a.withSession(func(cmd *cobra.Command, args []string, s *session) error {
				if err := s.sh.Settings.SetPrimaryColor(args[0]); err != nil {
					if errors.Is(err, settings.ErrUnknownColor) {
						return fmt.Errorf("unknown color %q, run 'sdp settings colors' for the palette", args[0])
					}
					return err
				}
				renderSettings(cmd.OutOrStdout(), s.sh.Settings)
				return nil
			}),
		},
		&cobra.Command{
			Use:       "notifications <on|off>",
			Short:     "Enable or disable notification polling",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"on", "off"},
			RunE: a.withSession(func(cmd *cobra.Command, args []string, s *session) error {
				on, err := parseOnOff(args[0])
				if err != nil {
					return err
				}
				if err := s.sh.Settings.SetNotificationsEnabled(on); err != nil {
					return err
				}
				renderSettings(cmd.OutOrStdout(), s.sh.Settings)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "colors",
			Short: "List the accent palette",
			Args:  cobra.NoArgs,
			RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
				current := s.sh.Settings.Current().PrimaryColor
				for _, c := range settings.ColorOptions() {
					swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(c.Value)).Render("■")
					marker := " "
					if c.Value == current {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %-9s %s\n", marker, swatch, c.Name, c.Value)
				}
				return nil
			}),
		},
	)
	return cmd
}

func renderSettings(w io.Writer, svc *settings.Service) {
	cur := svc.Current()
	styles := svc.Theme().Styles()
	name := cur.PrimaryColor
	if c, ok := settings.LookupColor(cur.PrimaryColor); ok {
		name = c.Name + " " + c.Value
	}
	fmt.Fprintln(w, styles.Title.Render("Settings"))
	fmt.Fprintf(w, "Dark mode:     %s\n", onOff(cur.DarkMode))
	fmt.Fprintf(w, "Primary color: %s\n", styles.Accent.Render(name))
	fmt.Fprintf(w, "Notifications: %s\n", onOff(cur.NotificationsEnabled))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
