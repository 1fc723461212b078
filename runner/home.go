package runner

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"sdpdash/events"
	"sdpdash/gateway"
)

// ErrIncompleteRequest is returned for a feature request without a title or
// description.
var ErrIncompleteRequest = errors.New("title and description are required")

// WorkflowStep is one entry of the home page timeline.
type WorkflowStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Route       string `json:"route"`
}

// WorkflowSteps lists the pipeline in order.
var WorkflowSteps = []WorkflowStep{
	{Name: "Generate Data", Description: "Create Excel file", Route: "/generate"},
	{Name: "Process Excel", Description: "Convert to CSV (+10)", Route: "/process"},
	{Name: "Upload CSV", Description: "Store in database (+5)", Route: "/upload"},
	{Name: "View Reports", Description: "Analyze & export", Route: "/report"},
}

// ClassBar is one row of the class distribution chart.
type ClassBar struct {
	Class string  `json:"class"`
	Count int64   `json:"count"`
	Width float64 `json:"width"` // percent of the largest class
}

// HomeState is the observable state of the home page.
type HomeState struct {
	Analytics  *gateway.Analytics `json:"analytics,omitempty"`
	Loading    bool               `json:"loading"`
	Bars       []ClassBar         `json:"bars"`
	Submitting bool               `json:"submitting"`
}

// ClassBars sorts the distribution by count, largest first, and scales each
// bar against the largest count (at least 1).
func ClassBars(dist map[string]int64) []ClassBar {
	bars := make([]ClassBar, 0, len(dist))
	var maxCount int64 = 1
	for class, n := range dist {
		bars = append(bars, ClassBar{Class: class, Count: n})
		maxCount = max(maxCount, n)
	}
	sort.Slice(bars, func(i, j int) bool {
		if bars[i].Count != bars[j].Count {
			return bars[i].Count > bars[j].Count
		}
		return bars[i].Class < bars[j].Class
	})
	for i := range bars {
		bars[i].Width = float64(bars[i].Count) / float64(maxCount) * 100
	}
	return bars
}

// HomePage shows analytics and accepts feature requests.
type HomePage struct {
	deps   Deps
	logger *zap.Logger
	state  *events.Topic[HomeState]
	mu     sync.Mutex
}

// NewHomePage creates the page.
func NewHomePage(deps Deps) *HomePage {
	deps = deps.withDefaults()
	return &HomePage{
		deps:   deps,
		logger: deps.Logger.With(zap.String("page", "home")),
		state:  events.NewTopic(HomeState{Bars: []ClassBar{}}),
	}
}

// LoadAnalytics fetches the summary. Failures are silent and leave the
// previous analytics in place.
func (p *HomePage) LoadAnalytics(ctx context.Context) error {
	p.mutate(func(s *HomeState) { s.Loading = true })
	a, err := p.deps.Gateway.AnalyticsSummary(ctx)
	if err != nil {
		p.logger.Debug("analytics fetch failed", zap.Error(err))
		p.mutate(func(s *HomeState) { s.Loading = false })
		return err
	}
	p.mutate(func(s *HomeState) {
		s.Loading = false
		s.Analytics = a
		s.Bars = ClassBars(a.ClassDistribution)
	})
	return nil
}

// SubmitFeatureRequest validates and posts fr, reporting the outcome with a
// toast.
func (p *HomePage) SubmitFeatureRequest(ctx context.Context, fr gateway.FeatureRequest) error {
	fr.Title = strings.TrimSpace(fr.Title)
	fr.Description = strings.TrimSpace(fr.Description)
	fr.Email = strings.TrimSpace(fr.Email)
	if fr.Title == "" || fr.Description == "" {
		return ErrIncompleteRequest
	}

	p.mutate(func(s *HomeState) { s.Submitting = true })
	defer p.mutate(func(s *HomeState) { s.Submitting = false })

	if err := p.deps.Gateway.SubmitFeatureRequest(ctx, fr); err != nil {
		p.deps.Toasts.Error("Failed to submit feature request")
		return err
	}
	p.deps.Toasts.Success("Feature request submitted!")
	return nil
}

// State returns the current home state.
func (p *HomePage) State() HomeState { return p.state.Value() }

// Subscribe streams the home state.
func (p *HomePage) Subscribe() (<-chan HomeState, func()) { return p.state.Subscribe() }

// Close ends subscriptions.
func (p *HomePage) Close() { p.state.Close() }

func (p *HomePage) mutate(fn func(*HomeState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state.Value()
	fn(&st)
	p.state.Publish(st)
}
