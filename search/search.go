// Package search implements the shell's global search box.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"sdpdash/events"
	"sdpdash/gateway"
	"sdpdash/logging"
)

const (
	// MinQueryLen is the shortest trimmed query, in runes, that produces results.
	MinQueryLen = 2
	// DefaultDelay debounces the remote student lookup.
	DefaultDelay = 300 * time.Millisecond
	// MaxStudents caps the student group.
	MaxStudents = 5
)

// Group names a result section.
type Group string

const (
	GroupPages    Group = "pages"
	GroupActions  Group = "actions"
	GroupStudents Group = "students"
)

// Result is one entry in the dropdown.
type Result struct {
	Group  Group  `json:"group"`
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Route  string `json:"route"`
}

// Entry is a static navigation target.
type Entry struct {
	Label string
	Route string
}

// Pages are matched by label.
var Pages = []Entry{
	{Label: "Home", Route: "/home"},
	{Label: "Generate Data", Route: "/generate"},
	{Label: "Process Excel", Route: "/process"},
	{Label: "Upload CSV", Route: "/upload"},
	{Label: "Report", Route: "/report"},
	{Label: "Documentation", Route: "/docs"},
	{Label: "Settings", Route: "/settings"},
}

// Actions are canned phrases; a query matches when it is a substring of one.
var Actions = []Entry{
	{Label: "generate data", Route: "/generate"},
	{Label: "create excel", Route: "/generate"},
	{Label: "process excel", Route: "/process"},
	{Label: "convert to csv", Route: "/process"},
	{Label: "upload csv", Route: "/upload"},
	{Label: "import data", Route: "/upload"},
	{Label: "view report", Route: "/report"},
	{Label: "export data", Route: "/report"},
	{Label: "change theme", Route: "/settings"},
	{Label: "dark mode", Route: "/settings"},
}

// normalize trims q and reports whether it is long enough to search.
func normalize(q string) (string, bool) {
	q = strings.TrimSpace(q)
	return q, utf8.RuneCountInString(q) >= MinQueryLen
}

// MatchPages returns pages whose label contains q, ignoring case.
func MatchPages(q string) []Result {
	q, ok := normalize(q)
	if !ok {
		return nil
	}
	q = strings.ToLower(q)
	var out []Result
	for _, p := range Pages {
		if strings.Contains(strings.ToLower(p.Label), q) {
			out = append(out, Result{Group: GroupPages, Label: p.Label, Route: p.Route})
		}
	}
	return out
}

// MatchActions returns the canned phrases containing q.
func MatchActions(q string) []Result {
	q, ok := normalize(q)
	if !ok {
		return nil
	}
	q = strings.ToLower(q)
	var out []Result
	for _, a := range Actions {
		if strings.Contains(a.Label, q) {
			out = append(out, Result{Group: GroupActions, Label: a.Label, Route: a.Route})
		}
	}
	return out
}

// StudentResults converts records into results, keeping at most MaxStudents.
func StudentResults(students []gateway.Student) []Result {
	out := make([]Result, 0, min(len(students), MaxStudents))
	for _, st := range students[:min(len(students), MaxStudents)] {
		label := st.FullName()
		if label == "" {
			label = st.StudentID
		}
		out = append(out, Result{
			Group:  GroupStudents,
			Label:  label,
			Detail: fmt.Sprintf("ID: %s · %s", st.StudentID, st.StudentClass),
			Route:  "/report?search=" + url.QueryEscape(st.StudentID),
		})
	}
	return out
}

// Source looks up students remotely.
type Source interface {
	ListStudents(ctx context.Context, q gateway.StudentQuery) (*gateway.StudentPage, error)
}

// Lookup runs all three groups synchronously. Remote failures yield an
// empty student group.
func Lookup(ctx context.Context, src Source, q string) []Result {
	results := append(MatchPages(q), MatchActions(q)...)
	trimmed, ok := normalize(q)
	if !ok || src == nil {
		return results
	}
	page, err := src.ListStudents(ctx, gateway.StudentQuery{Size: MaxStudents, Search: trimmed})
	if err != nil {
		return results
	}
	return append(results, StudentResults(page.Content)...)
}

// View is the observable dropdown state.
type View struct {
	Query     string   `json:"query"`
	Visible   bool     `json:"visible"`
	Pending   bool     `json:"pending"`
	NoResults bool     `json:"noResults"`
	Results   []Result `json:"results"`
}

// Option configures a Search.
type Option func(*Search)

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(s *Search) { s.delay = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Search) { s.logger = logging.OrNop(l) }
}

// Search is the interactive search box. Local groups update on every
// keystroke; the student group follows the latest query only.
type Search struct {
	src    Source
	delay  time.Duration
	logger *zap.Logger
	view   *events.Topic[View]

	mu       sync.Mutex
	seq      uint64
	query    string
	local    []Result
	students []Result
	pending  bool
	visible  bool
	timer    *time.Timer
	cancel   context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
}

// New creates an empty, hidden search box.
func New(src Source, opts ...Option) *Search {
	s := &Search{
		src:    src,
		delay:  DefaultDelay,
		logger: zap.NewNop(),
		view:   events.NewTopic(View{Results: []Result{}}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetQuery updates the query. Any pending or in-flight student lookup for an
// earlier query is abandoned.
func (s *Search) SetQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.abandonLocked()
	s.query = q
	s.students = nil

	trimmed, ok := normalize(q)
	if !ok {
		s.local = nil
		s.visible = false
		s.pending = false
		s.publishLocked()
		return
	}

	s.local = append(MatchPages(trimmed), MatchActions(trimmed)...)
	s.visible = true
	s.pending = s.src != nil
	s.publishLocked()

	if s.src == nil {
		return
	}
	seq := s.seq
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.lookup(seq, trimmed)
	})
}

func (s *Search) lookup(seq uint64, q string) {
	s.mu.Lock()
	if seq != s.seq || s.stopped {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	page, err := s.src.ListStudents(ctx, gateway.StudentQuery{Size: MaxStudents, Search: q})

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return
	}
	s.pending = false
	s.cancel = nil
	if err != nil {
		s.logger.Debug("student search failed", zap.String("query", q), zap.Error(err))
	} else {
		s.students = StudentResults(page.Content)
	}
	s.publishLocked()
}

// abandonLocked invalidates the current lookup.
func (s *Search) abandonLocked() {
	s.seq++
	if s.timer != nil && s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Search) publishLocked() {
	results := make([]Result, 0, len(s.local)+len(s.students))
	results = append(results, s.local...)
	results = append(results, s.students...)
	s.view.Publish(View{
		Query:     s.query,
		Visible:   s.visible,
		Pending:   s.pending,
		NoResults: s.visible && len(results) == 0,
		Results:   results,
	})
}

// Select clears the query, hides the dropdown and returns r's route.
func (s *Search) Select(r Result) string {
	s.SetQuery("")
	return r.Route
}

// Close hides the dropdown and keeps the query.
func (s *Search) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.visible {
		return
	}
	s.visible = false
	s.publishLocked()
}

// Open shows the dropdown again if the query is long enough.
func (s *Search) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := normalize(s.query); !ok || s.stopped || s.visible {
		return
	}
	s.visible = true
	s.publishLocked()
}

// View returns the current dropdown state.
func (s *Search) View() View { return s.view.Value() }

// Subscribe streams the dropdown state.
func (s *Search) Subscribe() (<-chan View, func()) { return s.view.Subscribe() }

// Shutdown abandons any lookup, waits for it to return and ends
// subscriptions.
func (s *Search) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.abandonLocked()
	s.mu.Unlock()

	s.wg.Wait()
	s.view.Close()
}
