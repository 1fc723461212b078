package shell

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sdpdash/changelog"
	"sdpdash/config"
	"sdpdash/gateway"
	"sdpdash/gateway/gatewaytest"
	"sdpdash/notify"
	"sdpdash/search"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(srv *gatewaytest.Server, dataDir string) *config.Config {
	cfg := config.Default()
	cfg.APIURL = srv.APIURL()
	cfg.DataDir = dataDir
	cfg.PollInterval = time.Hour
	return cfg
}

func newShell(t *testing.T, srv *gatewaytest.Server, dataDir string) *Shell {
	t.Helper()
	sh, err := New(testConfig(srv, dataDir), nil,
		WithSearchDelay(5*time.Millisecond),
		WithChangelogOptions(changelog.WithRetry(10*time.Millisecond)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { sh.Close() })
	return sh
}

func runShell(t *testing.T, sh *Shell) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, sh.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestResolve(t *testing.T) {
	loc := Resolve("/")
	assert.Equal(t, Location{Path: "/home", Title: "Home"}, loc)

	loc = Resolve("/report?search=12")
	assert.Equal(t, "Report", loc.Title)
	assert.Equal(t, "12", loc.Params.Get("search"))
	assert.False(t, loc.NotFound)

	loc = Resolve("/nowhere")
	assert.True(t, loc.NotFound)
	assert.Equal(t, NotFoundTitle, loc.Title)
	assert.Equal(t, []Crumb{{Label: "Home", Route: "/home"}, {Label: NotFoundTitle, Route: "/nowhere"}}, Breadcrumbs(loc))

	assert.Equal(t, []Crumb{{Label: "Home", Route: "/home"}}, Breadcrumbs(Resolve("home")))
}

func TestRunWiresSubsystems(t *testing.T) {
	srv := gatewaytest.New(t)
	srv.AddNotification(gateway.NotificationGeneration, "Generated 10 records")
	srv.AddNotification(gateway.NotificationUpload, "Uploaded 10 records")
	srv.SetChangelog(gateway.ChangelogEntry{ID: 1, Version: "1.0.0", Component: gateway.ComponentBackend})
	sh := newShell(t, srv, t.TempDir())
	runShell(t, sh)

	require.Eventually(t, func() bool { return sh.Badge() == "2" }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Streams() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, sh.Snapshot().Changelog, 1)

	srv.Push(gateway.ChangelogEntry{ID: 2, Version: "1.1.0", Component: gateway.ComponentFrontend})
	require.Eventually(t, func() bool { return len(sh.Feed.Entries()) == 2 }, 2*time.Second, 10*time.Millisecond)

	sh.Feed.SetFilter(changelog.Backend)
	snap := sh.Snapshot()
	assert.Equal(t, changelog.Backend, snap.Filter)
	require.Len(t, snap.Changelog, 1)
	assert.Equal(t, "1.0.0", snap.Changelog[0].Version)

	require.NoError(t, sh.Settings.SetNotificationsEnabled(false))
	require.Eventually(t, func() bool { return sh.Poller.State().Status == notify.Disabled }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, sh.Badge())
	assert.Empty(t, sh.Poller.State().Notifications)

	require.NoError(t, sh.Settings.SetNotificationsEnabled(true))
	require.Eventually(t, func() bool { return sh.Badge() == "2" }, 2*time.Second, 10*time.Millisecond)
}

func TestNavigateLoadsPageData(t *testing.T) {
	srv := gatewaytest.New(t)
	srv.SeedStudents(
		gateway.Student{ID: 1, StudentID: "11", StudentClass: "Class1"},
		gateway.Student{ID: 2, StudentID: "22", StudentClass: "Class2"},
	)
	sh := newShell(t, srv, t.TempDir())
	ctx := context.Background()

	loc := sh.Navigate(ctx, "/report?search=22")
	assert.Equal(t, "Report", loc.Title)
	st := sh.Report.State()
	assert.Equal(t, "22", st.Search)
	require.Len(t, st.Students, 1)
	assert.Equal(t, []string{"Class1", "Class2"}, st.Classes)

	sh.Navigate(ctx, "/")
	home := sh.Home.State()
	require.NotNil(t, home.Analytics)
	assert.EqualValues(t, 2, home.Analytics.TotalStudents)

	loc = sh.Navigate(ctx, "/missing")
	assert.True(t, loc.NotFound)
	assert.Equal(t, NotFoundTitle, sh.Snapshot().Breadcrumbs[1].Label)
}

func TestSearchSelectNavigates(t *testing.T) {
	srv := gatewaytest.New(t)
	sh := newShell(t, srv, t.TempDir())

	sh.Search.SetQuery("dark")
	v := sh.Search.View()
	require.True(t, v.Visible)
	require.NotEmpty(t, v.Results)
	assert.Equal(t, search.GroupActions, v.Results[0].Group)

	loc := sh.SelectResult(context.Background(), v.Results[0])
	assert.Equal(t, "/settings", loc.Path)
	assert.Empty(t, sh.Search.View().Query)
	assert.False(t, sh.Search.View().Visible)
}

func TestSettingsPersistAcrossSessions(t *testing.T) {
	srv := gatewaytest.New(t)
	dir := t.TempDir()

	first, err := New(testConfig(srv, dir), nil)
	require.NoError(t, err)
	require.NoError(t, first.Settings.SetNotificationsEnabled(false))
	require.NoError(t, first.Settings.SetDarkMode(true))
	require.NoError(t, first.Close())

	second := newShell(t, srv, dir)
	assert.False(t, second.Poller.Enabled())
	assert.True(t, second.Settings.Current().DarkMode)
	assert.Equal(t, "dark-mode", second.Snapshot().Theme.Class)
}

func TestBadgeCap(t *testing.T) {
	srv := gatewaytest.New(t)
	for i := 0; i < 120; i++ {
		srv.AddNotification(gateway.NotificationUpload, "Uploaded")
	}
	sh := newShell(t, srv, t.TempDir())
	sh.Poller.Refresh(context.Background())
	assert.Equal(t, "99+", sh.Badge())
}

func TestToggleChangelog(t *testing.T) {
	sh := newShell(t, gatewaytest.New(t), t.TempDir())
	assert.True(t, sh.ToggleChangelog())
	assert.True(t, sh.Snapshot().PopoverOpen)
	assert.False(t, sh.ToggleChangelog())
}
