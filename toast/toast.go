// Package toast surfaces transient user-facing messages.
package toast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sdpdash/events"
	"sdpdash/logging"
)

// Type is the toast severity.
type Type string

const (
	Success Type = "success"
	Error   Type = "error"
	Info    Type = "info"
	Warning Type = "warning"
)

// Display durations.
const (
	DefaultDuration = 4 * time.Second
	ErrorDuration   = 5 * time.Second
)

// Toast is one message on screen.
type Toast struct {
	ID        string        `json:"id"`
	Type      Type          `json:"type"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Presenter holds the visible toasts and expires them after their duration.
type Presenter struct {
	active *events.Topic[[]Toast]
	logger *zap.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	history []Toast
	closed  bool
}

// NewPresenter creates an empty presenter.
func NewPresenter(logger *zap.Logger) *Presenter {
	return &Presenter{
		active: events.NewTopic([]Toast{}),
		logger: logging.OrNop(logger),
		timers: make(map[string]*time.Timer),
	}
}

// Success shows a success toast.
func (p *Presenter) Success(msg string) Toast { return p.Show(Success, msg, DefaultDuration) }

// Error shows an error toast.
func (p *Presenter) Error(msg string) Toast { return p.Show(Error, msg, ErrorDuration) }

// Info shows an informational toast.
func (p *Presenter) Info(msg string) Toast { return p.Show(Info, msg, DefaultDuration) }

// Warning shows a warning toast.
func (p *Presenter) Warning(msg string) Toast { return p.Show(Warning, msg, DefaultDuration) }

// Show adds a toast and schedules its removal. A zero duration keeps it until
// dismissed.
func (p *Presenter) Show(typ Type, msg string, d time.Duration) Toast {
	t := Toast{
		ID:        uuid.NewString(),
		Type:      typ,
		Message:   msg,
		Duration:  d,
		CreatedAt: time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return t
	}
	p.history = append(p.history, t)
	if d > 0 {
		p.timers[t.ID] = time.AfterFunc(d, func() { p.Dismiss(t.ID) })
	}
	next := append(append([]Toast{}, p.active.Value()...), t)
	p.active.Publish(next)

	p.logger.Debug("toast", zap.String("type", string(typ)), zap.String("message", msg))
	return t
}

// Dismiss removes a toast before it expires.
func (p *Presenter) Dismiss(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.timers[id]; ok {
		timer.Stop()
		delete(p.timers, id)
	}
	current := p.active.Value()
	next := make([]Toast, 0, len(current))
	for _, t := range current {
		if t.ID != id {
			next = append(next, t)
		}
	}
	if len(next) != len(current) {
		p.active.Publish(next)
	}
}

// Active returns the toasts currently on screen, oldest first.
func (p *Presenter) Active() []Toast {
	return append([]Toast(nil), p.active.Value()...)
}

// History returns every toast shown since creation.
func (p *Presenter) History() []Toast {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Toast(nil), p.history...)
}

// Count returns how many toasts of typ have been shown.
func (p *Presenter) Count(typ Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.history {
		if t.Type == typ {
			n++
		}
	}
	return n
}

// Subscribe streams the active toast list.
func (p *Presenter) Subscribe() (<-chan []Toast, func()) {
	return p.active.Subscribe()
}

// Close stops pending expiry timers and closes subscriptions.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
	p.active.Close()
}
