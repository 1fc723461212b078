package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdpdash/gateway"
	"sdpdash/gateway/gatewaytest"
	"sdpdash/toast"
)

func seed(srv *gatewaytest.Server, n int) {
	students := make([]gateway.Student, 0, n)
	for i := 1; i <= n; i++ {
		students = append(students, gateway.Student{
			ID:           int64(i),
			StudentID:    fmt.Sprint(i),
			StudentClass: fmt.Sprintf("Class%d", i%3+1),
			Score:        float64(60 + i%20),
		})
	}
	srv.SeedStudents(students...)
}

func TestReportPaging(t *testing.T) {
	f := newFixture(t)
	seed(f.srv, 30)
	page := NewReportPage(f.deps)
	t.Cleanup(page.Close)
	ctx := context.Background()

	require.NoError(t, page.Open(ctx))
	st := page.State()
	assert.EqualValues(t, 30, st.Total)
	assert.Len(t, st.Students, DefaultPageSize)
	assert.Equal(t, 2, st.Pages())
	assert.Equal(t, []string{"Class1", "Class2", "Class3"}, st.Classes)
	assert.False(t, st.Loading)

	require.NoError(t, page.SetPageSize(ctx, 10))
	require.NoError(t, page.SetPage(ctx, 2))
	st = page.State()
	assert.Equal(t, 2, st.Page)
	require.Len(t, st.Students, 10)
	assert.Equal(t, "21", st.Students[0].StudentID)

	assert.Error(t, page.SetPageSize(ctx, 7))
	assert.Error(t, page.SetPage(ctx, -1))
	assert.Equal(t, 10, page.State().Size)
}

func TestReportFiltersResetPage(t *testing.T) {
	f := newFixture(t)
	seed(f.srv, 30)
	page := NewReportPage(f.deps)
	t.Cleanup(page.Close)
	ctx := context.Background()

	require.NoError(t, page.SetPageSize(ctx, 10))
	require.NoError(t, page.SetPage(ctx, 1))
	require.NoError(t, page.SetClass(ctx, "Class2"))
	st := page.State()
	assert.Equal(t, 0, st.Page)
	assert.EqualValues(t, 10, st.Total)
	for _, s := range st.Students {
		assert.Equal(t, "Class2", s.StudentClass)
	}

	require.NoError(t, page.SetPage(ctx, 1))
	require.NoError(t, page.SetSearch(ctx, " 2 "))
	st = page.State()
	assert.Equal(t, 0, st.Page)
	assert.Equal(t, "2", st.Search)
	for _, s := range st.Students {
		assert.Contains(t, s.StudentID, "2")
	}
}

func TestReportLoadFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.Fail(gatewaytest.OpStudents, http.StatusInternalServerError, `{"error":"db down"}`)
	page := NewReportPage(f.deps)
	t.Cleanup(page.Close)

	require.Error(t, page.Load(context.Background()))
	assert.Equal(t, "db down", page.State().Error)
	require.Len(t, f.toasts.History(), 1)
	assert.Equal(t, "Failed to load student data", f.toasts.History()[0].Message)
}

func TestReportExport(t *testing.T) {
	f := newFixture(t)
	seed(f.srv, 6)
	page := NewReportPage(f.deps)
	t.Cleanup(page.Close)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, page.SetClass(ctx, "Class1"))
	path, err := page.Export(ctx, gateway.ExportCSV, dir)
	require.NoError(t, err)
	assert.Equal(t, "students.csv", strings.TrimPrefix(path, dir+string(os.PathSeparator)))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "csv:2\n"))
	assert.Equal(t, "Exported as CSV successfully", f.toasts.History()[0].Message)

	f.srv.Fail(gatewaytest.OpExport, http.StatusInternalServerError, "")
	_, err = page.Export(ctx, gateway.ExportPDF, dir)
	require.Error(t, err)
	last := f.toasts.History()[len(f.toasts.History())-1]
	assert.Equal(t, toast.Error, last.Type)
	assert.Equal(t, "Failed to export PDF", last.Message)
}

// brokenExport serves an export body that fails after the first bytes.
type brokenExport struct {
	*gateway.Client
}

func (brokenExport) Export(context.Context, gateway.ExportFormat, gateway.ExportFilter) (io.ReadCloser, error) {
	body := io.MultiReader(strings.NewReader("csv:1\n"), iotest.ErrReader(errors.New("connection reset")))
	return io.NopCloser(body), nil
}

func TestReportExportRemovesPartialFile(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.Gateway = brokenExport{f.client}
	page := NewReportPage(deps)
	t.Cleanup(page.Close)
	dir := t.TempDir()

	_, err := page.Export(context.Background(), gateway.ExportCSV, dir)
	require.ErrorContains(t, err, "connection reset")
	_, err = os.Stat(filepath.Join(dir, "students.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	last := f.toasts.History()[len(f.toasts.History())-1]
	assert.Equal(t, "Failed to export CSV", last.Message)
}

func TestClassBars(t *testing.T) {
	bars := ClassBars(map[string]int64{"Class2": 5, "Class1": 10, "Class3": 5})
	require.Len(t, bars, 3)
	assert.Equal(t, ClassBar{Class: "Class1", Count: 10, Width: 100}, bars[0])
	assert.Equal(t, ClassBar{Class: "Class2", Count: 5, Width: 50}, bars[1])
	assert.Equal(t, "Class3", bars[2].Class)

	assert.Empty(t, ClassBars(nil))
	assert.Equal(t, 0.0, ClassBars(map[string]int64{"Empty": 0})[0].Width)
}

func TestHomeAnalytics(t *testing.T) {
	f := newFixture(t)
	seed(f.srv, 9)
	home := NewHomePage(f.deps)
	t.Cleanup(home.Close)

	require.NoError(t, home.LoadAnalytics(context.Background()))
	st := home.State()
	require.NotNil(t, st.Analytics)
	assert.EqualValues(t, 9, st.Analytics.TotalStudents)
	assert.Len(t, st.Bars, 3)

	f.srv.Fail(gatewaytest.OpAnalytics, http.StatusInternalServerError, "")
	require.Error(t, home.LoadAnalytics(context.Background()))
	assert.EqualValues(t, 9, home.State().Analytics.TotalStudents)
	assert.False(t, home.State().Loading)
	assert.Empty(t, f.toasts.History())
}

func TestHomeFeatureRequest(t *testing.T) {
	f := newFixture(t)
	home := NewHomePage(f.deps)
	t.Cleanup(home.Close)
	ctx := context.Background()

	err := home.SubmitFeatureRequest(ctx, gateway.FeatureRequest{Title: "  ", Description: "x"})
	assert.ErrorIs(t, err, ErrIncompleteRequest)
	assert.Equal(t, 0, f.srv.Calls(gatewaytest.OpFeature))

	require.NoError(t, home.SubmitFeatureRequest(ctx, gateway.FeatureRequest{Title: "Charts", Description: "More charts"}))
	assert.Equal(t, "Feature request submitted!", f.toasts.History()[0].Message)
	assert.Equal(t, "Charts", f.srv.FeatureRequests()[0].Title)

	f.srv.Fail(gatewaytest.OpFeature, http.StatusInternalServerError, "")
	require.Error(t, home.SubmitFeatureRequest(ctx, gateway.FeatureRequest{Title: "a", Description: "b"}))
	assert.Equal(t, "Failed to submit feature request", f.toasts.History()[1].Message)
	assert.False(t, home.State().Submitting)
}

func TestReportQuery(t *testing.T) {
	f := newFixture(t)
	seed(f.srv, 30)
	page := NewReportPage(f.deps)
	t.Cleanup(page.Close)
	ctx := context.Background()

	require.NoError(t, page.Query(ctx, ReportQuery{Class: "Class1", Page: 1, Size: 10}))
	st := page.State()
	assert.Equal(t, 1, st.Page)
	assert.Equal(t, 10, st.Size)
	assert.EqualValues(t, 10, st.Total)
	assert.Empty(t, st.Students)
	assert.Equal(t, 1, f.srv.Calls(gatewaytest.OpStudents))

	assert.Error(t, page.Query(ctx, ReportQuery{Size: 3}))
	assert.Equal(t, 1, f.srv.Calls(gatewaytest.OpStudents))
}
