package events

import "sync"

// Topic holds a current value and republishes every update to its
// subscribers. Each subscriber channel has room for one value; a slow
// subscriber sees only the latest update, never a stale one.
type Topic[T any] struct {
	mu     sync.Mutex
	value  T
	seq    uint64
	subs   map[chan T]struct{}
	closed bool
}

// NewTopic creates a topic seeded with initial.
func NewTopic[T any](initial T) *Topic[T] {
	return &Topic[T]{
		value: initial,
		subs:  make(map[chan T]struct{}),
	}
}

// Value returns the current value.
func (t *Topic[T]) Value() T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Seq returns how many times the topic has been published to.
func (t *Topic[T]) Seq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Publish replaces the current value and notifies every subscriber, even
// when v equals the previous value.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.value = v
	t.seq++
	for ch := range t.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel that immediately carries the current value and
// then every later update. The returned func unsubscribes and closes the
// channel; it is safe to call more than once.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	ch <- t.value
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[ch]; ok {
				delete(t.subs, ch)
				close(ch)
			}
		})
	}
}

// Close closes all subscriber channels. Later publishes are ignored.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
}

// offer delivers v, evicting an undelivered older value if needed.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
