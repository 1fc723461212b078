package shell

import (
	"net/url"
	"strings"

	"sdpdash/events"
)

// NotFoundTitle is the title of any unknown route.
const NotFoundTitle = "Page Not Found"

// HomeRoute is where the shell starts and where "/" redirects.
const HomeRoute = "/home"

// Route is a known page.
type Route struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// Routes lists every page in navigation order.
var Routes = []Route{
	{Path: "/home", Title: "Home"},
	{Path: "/generate", Title: "Generate Data"},
	{Path: "/process", Title: "Process Excel"},
	{Path: "/upload", Title: "Upload CSV"},
	{Path: "/report", Title: "Report"},
	{Path: "/docs", Title: "Documentation"},
	{Path: "/settings", Title: "Settings"},
	{Path: "/error", Title: "Error"},
}

// Location is the resolved current page.
type Location struct {
	Path     string     `json:"path"`
	Title    string     `json:"title"`
	Params   url.Values `json:"params,omitempty"`
	NotFound bool       `json:"notFound"`
}

// Resolve maps a target such as "/report?search=12" onto a Location.
func Resolve(target string) Location {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return Location{Path: target, Title: NotFoundTitle, NotFound: true}
	}
	path := "/" + strings.Trim(u.Path, "/")
	if path == "/" {
		path = HomeRoute
	}
	loc := Location{Path: path}
	if len(u.Query()) > 0 {
		loc.Params = u.Query()
	}
	for _, r := range Routes {
		if r.Path == path {
			loc.Title = r.Title
			return loc
		}
	}
	loc.Title = NotFoundTitle
	loc.NotFound = true
	return loc
}

// Crumb is one breadcrumb link.
type Crumb struct {
	Label string `json:"label"`
	Route string `json:"route"`
}

// Breadcrumbs starts at Home and ends at loc.
func Breadcrumbs(loc Location) []Crumb {
	crumbs := []Crumb{{Label: "Home", Route: HomeRoute}}
	if loc.Path != HomeRoute {
		crumbs = append(crumbs, Crumb{Label: loc.Title, Route: loc.Path})
	}
	return crumbs
}

// Navigator holds the current location.
type Navigator struct {
	loc *events.Topic[Location]
}

// NewNavigator starts at HomeRoute.
func NewNavigator() *Navigator {
	return &Navigator{loc: events.NewTopic(Resolve(HomeRoute))}
}

// Navigate moves to target and returns the resolved location.
func (n *Navigator) Navigate(target string) Location {
	loc := Resolve(target)
	n.loc.Publish(loc)
	return loc
}

// Current returns the current location.
func (n *Navigator) Current() Location { return n.loc.Value() }

// Subscribe streams location changes.
func (n *Navigator) Subscribe() (<-chan Location, func()) { return n.loc.Subscribe() }

// Close ends subscriptions.
func (n *Navigator) Close() { n.loc.Close() }
