// Package feed is a small latest-value broadcaster used to expose observable
// sequences (the saved-location list, cache change events) to any number of
// subscribers.
package feed

import "sync"

// Feed delivers published values to subscribers. Each subscriber has a
// one-slot buffer: a slow reader skips intermediate values and sees the latest.
type Feed[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	nextID  int
	held    bool
	pending *T
	closed  bool
}

// New creates an empty Feed.
func New[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, 1)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish sends v to every subscriber without blocking. While the feed is held
// only the latest value is kept.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	if f.held {
		f.pending = &v
		return
	}
	f.deliver(v)
}

// Hold stops delivery until Release is called.
func (f *Feed[T]) Hold() {
	f.mu.Lock()
	f.held = true
	f.mu.Unlock()
}

// Release resumes delivery and sends the latest value published while held.
func (f *Feed[T]) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.held = false
	if f.pending != nil && !f.closed {
		f.deliver(*f.pending)
	}
	f.pending = nil
}

// Close unregisters and closes every subscriber.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// deliver must be called with f.mu held.
func (f *Feed[T]) deliver(v T) {
	for _, ch := range f.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// Replace the stale buffered value.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
