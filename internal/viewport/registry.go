// Package viewport keeps server-side scroll sessions for windowed lists.
//
// A browser cannot hand the server its scroll container, so each rendered
// list gets a session: a mounted vlist.List fed by a vlist.Feed. Scroll
// requests emit offsets into the feed. Sessions end on Close, on TTL expiry
// or when the registry is full, and every one of those paths unmounts the
// list.
package viewport

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"sync"
	"time"

	"fatture/internal/cache"
	"fatture/internal/core"
	"fatture/internal/log"
	"fatture/internal/vlist"
)

// ErrSessionNotFound is returned for unknown, closed or expired sessions.
var ErrSessionNotFound = errors.New("viewport: session not found")

// InvoiceList is the list type sessions render.
type InvoiceList = vlist.List[core.Invoice, template.HTML]

// Session is one mounted list and the feed that scrolls it.
type Session struct {
	ID     string
	Filter core.Filter
	List   *InvoiceList
	Feed   *vlist.Feed

	// mu serialises renders of one session so the offset and item slice
	// of a frame belong together.
	mu sync.Mutex
}

// Render renders items at the session's current offset.
func (s *Session) Render(items []core.Invoice) vlist.Frame[template.HTML] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.List.Render(items)
}

// Options configures a Registry.
type Options struct {
	Height     int
	ItemHeight int
	Overscan   int
	TTL        time.Duration
	MaxOpen    int
	Monitor    vlist.Monitor
}

// Registry owns every open session.
type Registry struct {
	opts     Options
	render   vlist.RenderFunc[core.Invoice, template.HTML]
	sessions *cache.LRUCache[*Session]
	logger   *log.Logger
}

// NewRegistry validates the list geometry once so Open cannot fail on it.
func NewRegistry(opts Options, render vlist.RenderFunc[core.Invoice, template.HTML], logger *log.Logger) (*Registry, error) {
	cfg := vlist.Config{Height: opts.Height, ItemHeight: opts.ItemHeight, Overscan: opts.Overscan}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.MaxOpen <= 0 {
		opts.MaxOpen = 256
	}
	if logger == nil {
		logger = log.Discard()
	}

	r := &Registry{
		opts:   opts,
		render: render,
		logger: logger.WithComponent(log.ComponentViewport),
	}
	r.sessions = cache.NewLRUCache[*Session](opts.MaxOpen, opts.TTL).OnEvict(r.evicted)
	return r, nil
}

// Sessions exposes the session cache for periodic cleanup.
func (r *Registry) Sessions() cache.Cleaner {
	return r.sessions
}

// Open mounts a new list for filter and returns its session.
func (r *Registry) Open(filter core.Filter) (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	opts := []vlist.Option{
		vlist.WithOverscan(r.opts.Overscan),
		vlist.WithName("invoices"),
		vlist.WithClassName("invoice-list"),
		vlist.WithEmptyMessage("Nessuna fattura da mostrare"),
	}
	if r.opts.Monitor != nil {
		opts = append(opts, vlist.WithMonitor(r.opts.Monitor))
	}
	list, err := vlist.New(r.opts.Height, r.opts.ItemHeight, r.render, opts...)
	if err != nil {
		return nil, err
	}

	s := &Session{ID: id, Filter: filter, List: list, Feed: vlist.NewFeed()}
	if err := list.Mount(s.Feed); err != nil {
		return nil, err
	}
	r.sessions.Set(id, s)

	r.logger.Debug("Viewport session opened",
		log.FieldSession, id,
		log.FieldOperation, log.OpMount,
		log.FieldFilter, filter.Key())
	return s, nil
}

// Get returns a live session and extends its lifetime.
func (r *Registry) Get(id string) (*Session, error) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	r.sessions.Touch(id)
	return s, nil
}

// Scroll delivers offset to the session's list.
func (r *Registry) Scroll(id string, offset int) (*Session, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	s.Feed.Emit(offset)
	r.logger.Debug("Viewport scrolled",
		log.FieldSession, id,
		log.FieldOperation, log.OpScroll,
		log.FieldOffset, offset)
	return s, nil
}

// Close unmounts and forgets the session.
func (r *Registry) Close(id string) error {
	if !r.sessions.Delete(id) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// CloseAll unmounts every session. Used at shutdown.
func (r *Registry) CloseAll() int {
	return r.sessions.Purge()
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	return r.sessions.Size()
}

func (r *Registry) evicted(id string, s *Session, reason cache.EvictReason) {
	s.List.Unmount()
	r.logger.Debug("Viewport session closed",
		log.FieldSession, id,
		log.FieldOperation, log.OpUnmount,
		"reason", reason.String())
}

func newID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
