package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"sdpdash/events"
	"sdpdash/gateway"
)

// PageSizes are the selectable report page sizes.
var PageSizes = []int{10, 25, 50, 100}

// DefaultPageSize is the initial report page size.
const DefaultPageSize = 25

// Columns are the report table columns, in order.
var Columns = []string{"studentId", "firstName", "lastName", "dob", "studentClass", "score"}

// ReportState is the observable state of the report page.
type ReportState struct {
	Students []gateway.Student `json:"students"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	Size     int               `json:"size"`
	Search   string            `json:"search"`
	Class    string            `json:"class"`
	Classes  []string          `json:"classes"`
	Loading  bool              `json:"loading"`
	Error    string            `json:"error,omitempty"`
}

// Pages returns the number of pages for the current total.
func (s ReportState) Pages() int {
	if s.Size <= 0 || s.Total == 0 {
		return 0
	}
	return int((s.Total + int64(s.Size) - 1) / int64(s.Size))
}

// ReportPage browses, filters and exports persisted records.
type ReportPage struct {
	deps   Deps
	logger *zap.Logger
	state  *events.Topic[ReportState]

	// mu serializes loads so a slow page never overwrites a newer one.
	mu  sync.Mutex
	seq uint64
}

// NewReportPage creates a page on page 0 with DefaultPageSize.
func NewReportPage(deps Deps) *ReportPage {
	deps = deps.withDefaults()
	return &ReportPage{
		deps:   deps,
		logger: deps.Logger.With(zap.String("page", string(Report))),
		state:  events.NewTopic(ReportState{Size: DefaultPageSize, Students: []gateway.Student{}, Classes: []string{}}),
	}
}

// Open loads the class list and the first page.
func (p *ReportPage) Open(ctx context.Context) error {
	p.LoadClasses(ctx)
	return p.Load(ctx)
}

// LoadClasses fetches the class filter options. Failure leaves the list
// unchanged.
func (p *ReportPage) LoadClasses(ctx context.Context) {
	classes, err := p.deps.Gateway.ListClasses(ctx)
	if err != nil {
		p.logger.Debug("failed to load classes", zap.Error(err))
		return
	}
	p.mutate(func(s *ReportState) { s.Classes = classes })
}

// Load fetches the current page with the current filters.
func (p *ReportPage) Load(ctx context.Context) error {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	st := p.state.Value()
	st.Loading = true
	p.state.Publish(st)
	p.mu.Unlock()

	page, err := p.deps.Gateway.ListStudents(ctx, gateway.StudentQuery{
		Page:   st.Page,
		Size:   st.Size,
		Search: st.Search,
		Class:  st.Class,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.seq {
		return nil
	}
	next := p.state.Value()
	next.Loading = false
	if err != nil {
		next.Error = userMessage(err)
		p.state.Publish(next)
		p.deps.Toasts.Error("Failed to load student data")
		return err
	}
	next.Error = ""
	next.Students = page.Content
	if next.Students == nil {
		next.Students = []gateway.Student{}
	}
	next.Total = page.TotalElements
	p.state.Publish(next)
	return nil
}

// ReportQuery sets every filter at once.
type ReportQuery struct {
	Search string
	Class  string
	Page   int
	Size   int
}

// Query applies q and loads once. A zero Size keeps the current size.
func (p *ReportPage) Query(ctx context.Context, q ReportQuery) error {
	if q.Size != 0 && !slices.Contains(PageSizes, q.Size) {
		return fmt.Errorf("invalid page size %d (allowed: %v)", q.Size, PageSizes)
	}
	if q.Page < 0 {
		return fmt.Errorf("invalid page %d", q.Page)
	}
	p.mutate(func(s *ReportState) {
		s.Search = strings.TrimSpace(q.Search)
		s.Class = q.Class
		s.Page = q.Page
		if q.Size != 0 {
			s.Size = q.Size
		}
	})
	return p.Load(ctx)
}

// SetSearch filters by student id and returns to page 0.
func (p *ReportPage) SetSearch(ctx context.Context, search string) error {
	p.mutate(func(s *ReportState) {
		s.Search = strings.TrimSpace(search)
		s.Page = 0
	})
	return p.Load(ctx)
}

// SetClass filters by class and returns to page 0. An empty class clears
// the filter.
func (p *ReportPage) SetClass(ctx context.Context, class string) error {
	p.mutate(func(s *ReportState) {
		s.Class = class
		s.Page = 0
	})
	return p.Load(ctx)
}

// SetPage moves to page index n.
func (p *ReportPage) SetPage(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("invalid page %d", n)
	}
	p.mutate(func(s *ReportState) { s.Page = n })
	return p.Load(ctx)
}

// SetPageSize changes the page size and returns to page 0.
func (p *ReportPage) SetPageSize(ctx context.Context, size int) error {
	if !slices.Contains(PageSizes, size) {
		return fmt.Errorf("invalid page size %d (allowed: %v)", size, PageSizes)
	}
	p.mutate(func(s *ReportState) {
		s.Size = size
		s.Page = 0
	})
	return p.Load(ctx)
}

// Export downloads the filtered records in format and saves them as
// students.<ext> inside dir. It returns the written path.
func (p *ReportPage) Export(ctx context.Context, format gateway.ExportFormat, dir string) (string, error) {
	label := strings.ToUpper(string(format))
	st := p.state.Value()

	path, err := p.export(ctx, format, gateway.ExportFilter{Search: st.Search, Class: st.Class}, dir)
	if err != nil {
		p.deps.Toasts.Error(fmt.Sprintf("Failed to export %s", label))
		return "", err
	}
	p.deps.Toasts.Success(fmt.Sprintf("Exported as %s successfully", label))
	return path, nil
}

func (p *ReportPage) export(ctx context.Context, format gateway.ExportFormat, filter gateway.ExportFilter, dir string) (string, error) {
	body, err := p.deps.Gateway.Export(ctx, format, filter)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, "students."+format.Extension())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

// State returns the current report state.
func (p *ReportPage) State() ReportState { return p.state.Value() }

// Subscribe streams the report state.
func (p *ReportPage) Subscribe() (<-chan ReportState, func()) { return p.state.Subscribe() }

// Close ends subscriptions.
func (p *ReportPage) Close() { p.state.Close() }

func (p *ReportPage) mutate(fn func(*ReportState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state.Value()
	fn(&st)
	p.state.Publish(st)
}
