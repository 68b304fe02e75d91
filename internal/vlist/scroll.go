package vlist

import "sync"

// ScrollSource delivers scroll offsets to a listener. Subscribe returns the
// function that removes the listener again; calling it more than once is
// harmless.
type ScrollSource interface {
	Subscribe(listener func(offset int)) (unsubscribe func())
}

// Feed is an in-process ScrollSource. Whoever owns the real scroll container
// (an HTTP handler, a terminal model) calls Emit with each new offset.
type Feed struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(int)
}

// NewFeed creates a feed with no listeners.
func NewFeed() *Feed {
	return &Feed{listeners: make(map[int]func(int))}
}

// Subscribe registers listener until the returned function is called.
func (f *Feed) Subscribe(listener func(offset int)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = listener
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

// Emit delivers offset to every listener and returns how many were notified.
// Listeners run outside the feed lock so they may unsubscribe themselves.
func (f *Feed) Emit(offset int) int {
	f.mu.Lock()
	targets := make([]func(int), 0, len(f.listeners))
	for _, l := range f.listeners {
		targets = append(targets, l)
	}
	f.mu.Unlock()

	for _, l := range targets {
		l(offset)
	}
	return len(targets)
}

// Listeners reports the number of active subscriptions.
func (f *Feed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}
