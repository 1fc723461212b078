package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"sdpdash/gateway"
	"sdpdash/runner"
	"sdpdash/settings"
	"sdpdash/toast"
)

func renderStage(w io.Writer, st runner.StageState, styles settings.Styles) {
	switch st.Status {
	case runner.Success:
		fmt.Fprintln(w, styles.Success.Render("✅ "+st.Message()))
		if st.Next != nil {
			fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf("%s → sdp %s", st.Next.Label, strings.TrimPrefix(st.Next.Route, "/"))))
		}
	case runner.Error:
		fmt.Fprintln(w, styles.Error.Render("❌ "+st.Message()))
	}
	if st.Preview != nil && len(st.Preview.Rows) > 0 {
		title := "Preview"
		if st.Preview.Synthetic {
			title += " (sample data)"
		}
		fmt.Fprintln(w, styles.Title.Render(title))
		fmt.Fprintln(w, studentTable(st.Preview.Rows, styles))
	}
}

func studentTable(rows []gateway.Student, styles settings.Styles) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Muted).
		Headers("ID", "First Name", "Last Name", "DOB", "Class", "Score")
	for _, st := range rows {
		t.Row(st.StudentID, st.FirstName, st.LastName, st.DOB, st.StudentClass, fmt.Sprintf("%.0f", st.Score))
	}
	return t.String()
}

func renderToasts(w io.Writer, toasts []toast.Toast, styles settings.Styles) {
	for _, t := range toasts {
		switch t.Type {
		case toast.Success:
			fmt.Fprintln(w, styles.Success.Render("✔ "+t.Message))
		case toast.Error:
			fmt.Fprintln(w, styles.Error.Render("✖ "+t.Message))
		case toast.Warning:
			fmt.Fprintln(w, styles.Warning.Render("! "+t.Message))
		default:
			fmt.Fprintln(w, styles.Accent.Render("• "+t.Message))
		}
	}
}

func renderBars(w io.Writer, bars []runner.ClassBar, styles settings.Styles) {
	const width = 30
	for _, b := range bars {
		n := int(b.Width / 100 * width)
		fmt.Fprintf(w, "%-10s %s %d\n", b.Class, styles.Accent.Render(strings.Repeat("█", n)), b.Count)
	}
}
