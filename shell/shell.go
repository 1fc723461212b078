// Package shell wires the dashboard together: navigation, search, the
// notification badge, the changelog popover and the pages.
package shell

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sdpdash/changelog"
	"sdpdash/config"
	"sdpdash/gateway"
	"sdpdash/logging"
	"sdpdash/notify"
	"sdpdash/runner"
	"sdpdash/runner/storage"
	"sdpdash/search"
	"sdpdash/settings"
	"sdpdash/toast"
)

// Shell owns every long-lived component of one dashboard session.
type Shell struct {
	cfg    *config.Config
	logger *zap.Logger

	Store    *storage.Storage
	Gateway  *gateway.Client
	Toasts   *toast.Presenter
	Settings *settings.Service
	Poller   *notify.Poller
	Feed     *changelog.Feed
	Search   *search.Search
	Nav      *Navigator

	Home     *runner.HomePage
	Generate *runner.GeneratePage
	Process  *runner.ProcessPage
	Upload   *runner.UploadPage
	Report   *runner.ReportPage

	mu        sync.Mutex
	popover   bool
	closeOnce sync.Once
}

// Option configures a Shell.
type Option func(*options)

type options struct {
	searchDelay  time.Duration
	changelogOpt []changelog.Option
}

// WithSearchDelay overrides the student lookup debounce.
func WithSearchDelay(d time.Duration) Option {
	return func(o *options) { o.searchDelay = d }
}

// WithChangelogOptions passes options through to the changelog feed.
func WithChangelogOptions(opts ...changelog.Option) Option {
	return func(o *options) { o.changelogOpt = append(o.changelogOpt, opts...) }
}

// New opens the preference store and builds every component from cfg.
// Nothing runs until Run is called.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Shell, error) {
	logger = logging.OrNop(logger)
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	gw := gateway.New(cfg.APIURL,
		gateway.WithStreamURL(cfg.Stream()),
		gateway.WithLogger(logger.Named("gateway")),
	)
	toasts := toast.NewPresenter(logger.Named("toast"))
	prefs := settings.NewService(store, logger.Named("settings"))

	searchOpts := []search.Option{search.WithLogger(logger.Named("search"))}
	if o.searchDelay > 0 {
		searchOpts = append(searchOpts, search.WithDelay(o.searchDelay))
	}

	deps := runner.Deps{Gateway: gw, Toasts: toasts, History: store, Logger: logger.Named("runner")}
	s := &Shell{
		cfg:      cfg,
		logger:   logger,
		Store:    store,
		Gateway:  gw,
		Toasts:   toasts,
		Settings: prefs,
		Poller: notify.NewPoller(gw,
			notify.WithInterval(cfg.PollInterval),
			notify.WithEnabled(prefs.Current().NotificationsEnabled),
			notify.WithLogger(logger.Named("notify")),
		),
		Feed:     changelog.NewFeed(gw, append([]changelog.Option{changelog.WithLogger(logger.Named("changelog"))}, o.changelogOpt...)...),
		Search:   search.New(gw, searchOpts...),
		Nav:      NewNavigator(),
		Home:     runner.NewHomePage(deps),
		Generate: runner.NewGeneratePage(deps),
		Process:  runner.NewProcessPage(deps),
		Upload:   runner.NewUploadPage(deps),
		Report:   runner.NewReportPage(deps),
	}
	return s, nil
}

// Config returns the configuration the shell was built from.
func (s *Shell) Config() *config.Config { return s.cfg }

// Run starts the notification poller, the changelog feed and the settings
// watcher, and blocks until ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Poller.Run(ctx) })
	g.Go(func() error { return s.Feed.Run(ctx) })
	g.Go(func() error { return s.watchSettings(ctx) })
	return g.Wait()
}

// watchSettings keeps the poller in step with the notifications toggle.
func (s *Shell) watchSettings(ctx context.Context) error {
	ch, cancel := s.Settings.Subscribe()
	defer cancel()
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			s.Poller.SetEnabled(st.NotificationsEnabled)
		case <-ctx.Done():
			return nil
		}
	}
}

// Navigate moves to target and loads the data the page shows on entry.
func (s *Shell) Navigate(ctx context.Context, target string) Location {
	loc := s.Nav.Navigate(target)
	s.Search.Close()
	switch loc.Path {
	case "/home":
		_ = s.Home.LoadAnalytics(ctx)
	case "/report":
		s.Report.LoadClasses(ctx)
		if q := loc.Params.Get("search"); q != "" {
			_ = s.Report.SetSearch(ctx, q)
		} else {
			_ = s.Report.Load(ctx)
		}
	}
	return loc
}

// SelectResult follows a search result.
func (s *Shell) SelectResult(ctx context.Context, r search.Result) Location {
	return s.Navigate(ctx, s.Search.Select(r))
}

// Badge is the text on the notification bell: empty when there is nothing
// unread, capped at "99+".
func (s *Shell) Badge() string {
	n := s.Poller.State().Unread
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	}
	return strconv.Itoa(n)
}

// ToggleChangelog opens or closes the help and changelog popover.
func (s *Shell) ToggleChangelog() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popover = !s.popover
	return s.popover
}

// Snapshot is everything the shell renders at one instant.
type Snapshot struct {
	Location      Location                          `json:"location"`
	Breadcrumbs   []Crumb                           `json:"breadcrumbs"`
	Badge         string                            `json:"badge"`
	Notifications notify.State                      `json:"notifications"`
	PopoverOpen   bool                              `json:"popoverOpen"`
	Filter        changelog.Filter                  `json:"filter"`
	Changelog     []gateway.ChangelogEntry          `json:"changelog"`
	Settings      settings.Settings                 `json:"settings"`
	Theme         settings.Theme                    `json:"theme"`
	Search        search.View                       `json:"search"`
	Toasts        []toast.Toast                     `json:"toasts"`
	Stages        map[runner.Kind]runner.StageState `json:"stages"`
	Report        runner.ReportState                `json:"report"`
	Home          runner.HomeState                  `json:"home"`
}

// Snapshot captures the current state.
func (s *Shell) Snapshot() Snapshot {
	loc := s.Nav.Current()
	s.mu.Lock()
	popover := s.popover
	s.mu.Unlock()
	return Snapshot{
		Location:      loc,
		Breadcrumbs:   Breadcrumbs(loc),
		Badge:         s.Badge(),
		Notifications: s.Poller.State(),
		PopoverOpen:   popover,
		Filter:        s.Feed.Filter(),
		Changelog:     s.Feed.Filtered(),
		Settings:      s.Settings.Current(),
		Theme:         s.Settings.Theme(),
		Search:        s.Search.View(),
		Toasts:        s.Toasts.Active(),
		Stages: map[runner.Kind]runner.StageState{
			runner.Generate: s.Generate.State(),
			runner.Process:  s.Process.State(),
			runner.Upload:   s.Upload.State(),
		},
		Report: s.Report.State(),
		Home:   s.Home.State(),
	}
}

// Close tears down every component. Run must have returned first.
func (s *Shell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Generate.Close()
		s.Process.Close()
		s.Upload.Close()
		s.Report.Close()
		s.Home.Close()
		s.Search.Shutdown()
		s.Poller.Close()
		s.Feed.Close()
		s.Nav.Close()
		s.Settings.Close()
		s.Toasts.Close()
		err = s.Store.Close()
	})
	return err
}
