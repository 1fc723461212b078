// Package changelog keeps a live, filtered list of release notes fed by an
// initial fetch and a server-sent event stream.
package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdpdash/events"
	"sdpdash/gateway"
	"sdpdash/logging"
)

// UpdateEvent is the event name carrying a new entry.
const UpdateEvent = "changelog-update"

// DefaultRetry is the reconnect delay used until the server announces one.
const DefaultRetry = 3 * time.Second

// Source is the subset of the gateway the feed uses.
type Source interface {
	Changelog(ctx context.Context, component gateway.Component) ([]gateway.ChangelogEntry, error)
	StreamURL() string
	HTTPClient() *http.Client
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Feed) { f.logger = logging.OrNop(l) }
}

// WithRetry overrides DefaultRetry.
func WithRetry(d time.Duration) Option {
	return func(f *Feed) { f.retry = d }
}

// Feed accumulates changelog entries newest first. Entries are never removed
// and pushed entries are not de-duplicated against the initial fetch.
type Feed struct {
	src    Source
	logger *zap.Logger
	retry  time.Duration

	mu       sync.Mutex
	entries  *events.Topic[[]gateway.ChangelogEntry]
	filter   *events.Topic[Filter]
	filtered *events.Topic[[]gateway.ChangelogEntry]
	lastID   string
}

// NewFeed creates an empty feed. Call Run to load and follow the stream.
func NewFeed(src Source, opts ...Option) *Feed {
	f := &Feed{
		src:      src,
		logger:   zap.NewNop(),
		retry:    DefaultRetry,
		entries:  events.NewTopic([]gateway.ChangelogEntry{}),
		filter:   events.NewTopic(All),
		filtered: events.NewTopic([]gateway.ChangelogEntry{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run seeds the list, then follows the stream until ctx is done. Connection
// loss is silent: the feed waits the retry delay and reconnects forever.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.Load(ctx); err != nil {
		f.logger.Debug("initial changelog fetch failed", zap.Error(err))
	}

	for {
		err := f.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Debug("changelog stream disconnected", zap.Error(err), zap.Duration("retry", f.retry))

		select {
		case <-time.After(f.retry):
		case <-ctx.Done():
			return nil
		}
	}
}

// Load replaces the list with a full fetch.
func (f *Feed) Load(ctx context.Context) error {
	list, err := f.src.Changelog(ctx, "")
	if err != nil {
		return err
	}
	if list == nil {
		list = []gateway.ChangelogEntry{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries.Publish(list)
	f.recomputeLocked()
	return nil
}

// follow holds one stream connection open and returns when it ends.
func (f *Feed) follow(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.src.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if f.lastID != "" {
		req.Header.Set("Last-Event-ID", f.lastID)
	}

	resp, err := f.src.HTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connect stream: status %d", resp.StatusCode)
	}
	f.logger.Debug("changelog stream connected", zap.String("url", f.src.StreamURL()))

	dec := events.NewDecoder(resp.Body)
	for {
		msg, err := dec.Next()
		if r := dec.Retry(); r > 0 {
			f.retry = r
		}
		f.lastID = dec.LastID()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if msg.Event != UpdateEvent && msg.Event != "message" {
			continue
		}

		var entry gateway.ChangelogEntry
		if err := json.Unmarshal([]byte(msg.Data), &entry); err != nil {
			f.logger.Debug("skipping malformed changelog event", zap.Error(err))
			continue
		}
		f.Prepend(entry)
	}
}

// Prepend adds entry to the front of the list.
func (f *Feed) Prepend(entry gateway.ChangelogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.entries.Value()
	next := make([]gateway.ChangelogEntry, 0, len(current)+1)
	next = append(next, entry)
	next = append(next, current...)
	f.entries.Publish(next)
	f.recomputeLocked()
}

// SetFilter changes the filter and recomputes the filtered view before
// returning.
func (f *Feed) SetFilter(filter Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.Publish(filter)
	f.recomputeLocked()
}

func (f *Feed) recomputeLocked() {
	f.filtered.Publish(ApplyFilter(f.entries.Value(), f.filter.Value()))
}

// Filter returns the current filter.
func (f *Feed) Filter() Filter { return f.filter.Value() }

// Entries returns every entry, newest first.
func (f *Feed) Entries() []gateway.ChangelogEntry {
	return append([]gateway.ChangelogEntry(nil), f.entries.Value()...)
}

// Filtered returns the entries visible under the current filter.
func (f *Feed) Filtered() []gateway.ChangelogEntry {
	return append([]gateway.ChangelogEntry(nil), f.filtered.Value()...)
}

// SubscribeFiltered streams the filtered view. It republishes whenever the
// list or the filter changes.
func (f *Feed) SubscribeFiltered() (<-chan []gateway.ChangelogEntry, func()) {
	return f.filtered.Subscribe()
}

// SubscribeEntries streams the unfiltered list.
func (f *Feed) SubscribeEntries() (<-chan []gateway.ChangelogEntry, func()) {
	return f.entries.Subscribe()
}

// Close ends subscriptions.
func (f *Feed) Close() {
	f.entries.Close()
	f.filter.Close()
	f.filtered.Close()
}
