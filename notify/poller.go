// Package notify polls the backend for notifications on a fixed interval.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sdpdash/events"
	"sdpdash/gateway"
	"sdpdash/logging"
)

// DefaultInterval is the polling period.
const DefaultInterval = 30 * time.Second

// Status is the poller's state.
type Status string

const (
	Disabled Status = "disabled"
	Idle     Status = "idle"
	Fetching Status = "fetching"
)

// State is the cached notification view.
type State struct {
	Status        Status                 `json:"status"`
	Notifications []gateway.Notification `json:"notifications"`
	Unread        int                    `json:"unread"`
}

// Source is the subset of the gateway the poller uses.
type Source interface {
	Notifications(ctx context.Context) ([]gateway.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) { p.logger = logging.OrNop(l) }
}

// WithEnabled sets the initial enabled flag. Pollers start enabled.
func WithEnabled(on bool) Option {
	return func(p *Poller) { p.enabled = on }
}

// Poller keeps a cached copy of the backend's notifications. Fetch
// failures are swallowed and the previous values are kept.
type Poller struct {
	src      Source
	interval time.Duration
	logger   *zap.Logger

	state    *events.Topic[State]
	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	enabled  bool
	gen      uint64
	inflight int
}

// NewPoller creates a poller. Call Run to start ticking.
func NewPoller(src Source, opts ...Option) *Poller {
	p := &Poller{
		src:      src,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		enabled:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	initial := State{Status: Idle, Notifications: []gateway.Notification{}}
	if !p.enabled {
		initial.Status = Disabled
	}
	p.state = events.NewTopic(initial)
	return p
}

// Run fetches immediately, then on every tick, until ctx is done or Stop is
// called. Ticks while disabled are skipped.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Debug("notification poller started", zap.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Refresh(ctx)

	for {
		select {
		case <-ticker.C:
			p.Refresh(ctx)
		case <-p.wake:
			p.Refresh(ctx)
		case <-p.stopChan:
			p.logger.Debug("notification poller stopped")
			return nil
		case <-ctx.Done():
			p.logger.Debug("notification poller stopped")
			return nil
		}
	}
}

// Stop ends Run.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}

// Refresh fetches the unread count and the list independently. It is a no-op
// while disabled.
func (p *Poller) Refresh(ctx context.Context) {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return
	}
	gen := p.gen
	p.inflight++
	p.publishLocked(func(s *State) { s.Status = Fetching })
	p.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		count, err := p.src.UnreadCount(ctx)
		if err != nil {
			p.logger.Debug("unread count fetch failed", zap.Error(err))
			return nil
		}
		p.apply(gen, func(s *State) { s.Unread = count })
		return nil
	})
	g.Go(func() error {
		list, err := p.src.Notifications(ctx)
		if err != nil {
			p.logger.Debug("notifications fetch failed", zap.Error(err))
			return nil
		}
		if list == nil {
			list = []gateway.Notification{}
		}
		p.apply(gen, func(s *State) { s.Notifications = list })
		return nil
	})
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if p.enabled && p.inflight == 0 {
		p.publishLocked(func(s *State) { s.Status = Idle })
	}
}

// apply stores a fetch result unless the poller was disabled or re-enabled
// after the fetch started.
func (p *Poller) apply(gen uint64, mutate func(*State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled || gen != p.gen {
		return
	}
	p.publishLocked(mutate)
}

func (p *Poller) publishLocked(mutate func(*State)) {
	next := p.state.Value()
	mutate(&next)
	p.state.Publish(next)
}

// SetEnabled turns polling on or off. Disabling blanks the cached state;
// enabling wakes Run for an immediate fetch.
func (p *Poller) SetEnabled(on bool) {
	p.mu.Lock()
	if p.enabled == on {
		p.mu.Unlock()
		return
	}
	p.enabled = on
	p.gen++
	if !on {
		p.state.Publish(State{Status: Disabled, Notifications: []gateway.Notification{}})
		p.mu.Unlock()
		p.logger.Debug("notification polling disabled")
		return
	}
	p.publishLocked(func(s *State) { s.Status = Idle })
	p.mu.Unlock()

	p.logger.Debug("notification polling enabled")
	p.kick()
}

func (p *Poller) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Enabled reports whether polling is on.
func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// MarkRead marks one notification read, then refreshes whatever the
// outcome. The cache is never mutated optimistically.
func (p *Poller) MarkRead(ctx context.Context, id int64) error {
	err := p.src.MarkRead(ctx, id)
	p.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every notification read, then refreshes.
func (p *Poller) MarkAllRead(ctx context.Context) error {
	err := p.src.MarkAllRead(ctx)
	p.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// State returns the cached state.
func (p *Poller) State() State {
	return p.state.Value()
}

// Subscribe streams the cached state, starting with the current value.
func (p *Poller) Subscribe() (<-chan State, func()) {
	return p.state.Subscribe()
}

// Close ends subscriptions.
func (p *Poller) Close() {
	p.Stop()
	p.state.Close()
}
