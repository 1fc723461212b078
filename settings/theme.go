package settings

import "github.com/charmbracelet/lipgloss"

// DarkModeClass is set on the document root while dark mode is on.
const DarkModeClass = "dark-mode"

// Theme is the set of visual variables derived from Settings.
type Theme struct {
	DarkMode bool              `json:"darkMode"`
	Class    string            `json:"class"`
	Vars     map[string]string `json:"vars"`
}

type shades struct {
	border, text, textSecondary, textMuted, bg, surface string
}

var (
	darkShades  = shades{"#374151", "#f3f4f6", "#d1d5db", "#9ca3af", "#111827", "#1f2937"}
	lightShades = shades{"#e5e7eb", "#1f2937", "#6b7280", "#9ca3af", "#f8fafc", "#ffffff"}
)

// DeriveTheme computes the theme for s. It is pure; calling it again with
// the same settings yields an identical theme.
func DeriveTheme(s Settings) Theme {
	color, ok := LookupColor(s.PrimaryColor)
	if !ok {
		color, _ = LookupColor(DefaultPrimaryColor)
	}
	sh := lightShades
	class := ""
	if s.DarkMode {
		sh = darkShades
		class = DarkModeClass
	}
	return Theme{
		DarkMode: s.DarkMode,
		Class:    class,
		Vars: map[string]string{
			"--primary":        color.Value,
			"--primary-light":  color.Light,
			"--primary-rgb":    color.RGB,
			"--border":         sh.border,
			"--text":           sh.text,
			"--text-secondary": sh.textSecondary,
			"--text-muted":     sh.textMuted,
			"--bg":             sh.bg,
			"--surface":        sh.surface,
		},
	}
}

// Styles are terminal renderings of a Theme.
type Styles struct {
	Title   lipgloss.Style
	Accent  lipgloss.Style
	Text    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Pane    lipgloss.Style
}

// Styles builds lipgloss styles from the theme variables.
func (t Theme) Styles() Styles {
	primary := lipgloss.Color(t.Vars["--primary"])
	text := lipgloss.Color(t.Vars["--text"])
	muted := lipgloss.Color(t.Vars["--text-muted"])
	border := lipgloss.Color(t.Vars["--border"])

	return Styles{
		Title:   lipgloss.NewStyle().Foreground(primary).Bold(true),
		Accent:  lipgloss.NewStyle().Foreground(primary),
		Text:    lipgloss.NewStyle().Foreground(text),
		Muted:   lipgloss.NewStyle().Foreground(muted),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#10b981")).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b")),
		Pane: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
	}
}
