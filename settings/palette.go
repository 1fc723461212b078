package settings

import "strings"

// ColorOption is one selectable accent color.
type ColorOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Light string `json:"light"`
	RGB   string `json:"rgb"`
}

var palette = []ColorOption{
	{Name: "Sky Blue", Value: "#0ea5e9", Light: "#e0f2fe", RGB: "14, 165, 233"},
	{Name: "Indigo", Value: "#6366f1", Light: "#e0e7ff", RGB: "99, 102, 241"},
	{Name: "Emerald", Value: "#10b981", Light: "#d1fae5", RGB: "16, 185, 129"},
	{Name: "Rose", Value: "#f43f5e", Light: "#ffe4e6", RGB: "244, 63, 94"},
	{Name: "Amber", Value: "#f59e0b", Light: "#fef3c7", RGB: "245, 158, 11"},
	{Name: "Violet", Value: "#8b5cf6", Light: "#ede9fe", RGB: "139, 92, 246"},
	{Name: "Teal", Value: "#14b8a6", Light: "#ccfbf1", RGB: "20, 184, 166"},
	{Name: "Orange", Value: "#f97316", Light: "#ffedd5", RGB: "249, 115, 22"},
}

// ColorOptions returns the palette in display order.
func ColorOptions() []ColorOption {
	return append([]ColorOption(nil), palette...)
}

// LookupColor finds a palette entry by hex value or by name, ignoring case.
func LookupColor(s string) (ColorOption, bool) {
	s = strings.TrimSpace(s)
	for _, c := range palette {
		if strings.EqualFold(c.Value, s) || strings.EqualFold(c.Name, s) {
			return c, true
		}
	}
	return ColorOption{}, false
}
