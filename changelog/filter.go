package changelog

import (
	"errors"
	"fmt"
	"strings"

	"sdpdash/gateway"
)

// ErrUnknownFilter is returned by ParseFilter.
var ErrUnknownFilter = errors.New("unknown changelog filter")

// Filter narrows the visible entries by component.
type Filter string

const (
	All      Filter = "ALL"
	Frontend Filter = "FRONTEND"
	Backend  Filter = "BACKEND"
)

// ParseFilter accepts ALL, FRONTEND or BACKEND in any case. An empty string
// is ALL.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToUpper(strings.TrimSpace(s))); f {
	case "":
		return All, nil
	case All, Frontend, Backend:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFilter, s)
}

// ApplyFilter returns the entries visible under f, in their original order.
// GENERAL entries are visible under every filter.
func ApplyFilter(entries []gateway.ChangelogEntry, f Filter) []gateway.ChangelogEntry {
	out := make([]gateway.ChangelogEntry, 0, len(entries))
	for _, e := range entries {
		if f == All || e.Component == gateway.Component(f) || e.Component == gateway.ComponentGeneral {
			out = append(out, e)
		}
	}
	return out
}
