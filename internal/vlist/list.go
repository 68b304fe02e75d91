package vlist

import (
	"errors"
	"sync"
	"time"
)

// DefaultEmptyMessage is shown when a list renders no items.
const DefaultEmptyMessage = "No items to display"

// ErrAlreadyMounted is returned by Mount on a list that is still mounted.
var ErrAlreadyMounted = errors.New("vlist: list already mounted")

// RenderFunc renders one item. index is the item's position in the full
// sequence, not in the window.
type RenderFunc[T, N any] func(item T, index int) N

// Row is one rendered item, positioned absolutely at Top.
type Row[N any] struct {
	Index  int
	Top    int
	Height int
	Node   N
}

// Frame is the result of one render pass.
type Frame[N any] struct {
	Window       Window
	Offset       int // scroll offset the window was computed from
	Height       int // viewport height
	ItemHeight   int
	TotalHeight  int // len(items) * ItemHeight
	Rows         []Row[N]
	Empty        bool
	EmptyMessage string
	ClassName    string
}

type settings struct {
	overscan     int
	emptyMessage string
	className    string
	name         string
	monitor      Monitor
}

// Option customises a List.
type Option func(*settings)

// WithOverscan sets the number of extra rows rendered on each side of the
// viewport. The default is DefaultOverscan.
func WithOverscan(n int) Option {
	return func(s *settings) { s.overscan = n }
}

// WithEmptyMessage replaces DefaultEmptyMessage.
func WithEmptyMessage(msg string) Option {
	return func(s *settings) { s.emptyMessage = msg }
}

// WithClassName sets a CSS class passed through to the rendered container.
func WithClassName(class string) Option {
	return func(s *settings) { s.className = class }
}

// WithName labels the list in monitor callbacks.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithMonitor attaches a lifecycle monitor.
func WithMonitor(m Monitor) Option {
	return func(s *settings) {
		if m != nil {
			s.monitor = m
		}
	}
}

// List is a windowed renderer over items of type T producing nodes of type N.
// The items themselves are never stored: each Render receives the current
// slice from the caller.
type List[T, N any] struct {
	cfg    Config
	render RenderFunc[T, N]
	opts   settings

	mu          sync.Mutex
	offset      int
	source      ScrollSource
	mounted     bool
	mountedAt   time.Time
	unsubscribe func()
	renders     int
}

// New builds a list. It fails fast with ErrInvalidItemHeight or
// ErrInvalidConfig instead of producing NaN-like offsets later.
func New[T, N any](height, itemHeight int, render RenderFunc[T, N], opts ...Option) (*List[T, N], error) {
	s := settings{
		overscan:     DefaultOverscan,
		emptyMessage: DefaultEmptyMessage,
		name:         "list",
		monitor:      nopMonitor{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	cfg := Config{Height: height, ItemHeight: itemHeight, Overscan: s.overscan}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if render == nil {
		return nil, errors.New("vlist: render func is required")
	}
	return &List[T, N]{cfg: cfg, render: render, opts: s}, nil
}

// Config returns the list geometry.
func (l *List[T, N]) Config() Config {
	return l.cfg
}

// Mount binds the list to its scroll source. The listener itself is attached
// by the next Render that has items to show.
func (l *List[T, N]) Mount(src ScrollSource) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mounted {
		return ErrAlreadyMounted
	}
	l.source = src
	l.mounted = true
	l.mountedAt = time.Now()
	l.offset = 0
	l.renders = 0
	return nil
}

// Unmount detaches the scroll listener and discards the viewport state.
// It is safe to call on a list that is not mounted.
func (l *List[T, N]) Unmount() {
	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return
	}
	l.detachLocked()
	l.mounted = false
	l.source = nil
	l.offset = 0
	updates := max(0, l.renders-1)
	l.mu.Unlock()

	l.opts.monitor.Unmounted(l.opts.name, updates)
}

// Mounted reports whether the list is between Mount and Unmount.
func (l *List[T, N]) Mounted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mounted
}

// Listening reports whether a scroll listener is currently attached.
func (l *List[T, N]) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unsubscribe != nil
}

// Offset returns the last scroll offset received.
func (l *List[T, N]) Offset() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// ScrollTo sets the scroll offset directly, as a scroll event would.
// Negative offsets are stored as zero.
func (l *List[T, N]) ScrollTo(offset int) {
	l.mu.Lock()
	l.offset = max(0, offset)
	l.mu.Unlock()
}

// Window computes the window for count items at the current offset without
// rendering anything.
func (l *List[T, N]) Window(count int) Window {
	w, _ := Compute(l.Offset(), count, l.cfg)
	return w
}

// Render produces the frame for items at the current scroll offset. The
// window is recomputed from scratch on every call.
func (l *List[T, N]) Render(items []T) Frame[N] {
	started := time.Now()
	n := len(items)

	l.mu.Lock()
	if n == 0 {
		l.detachLocked()
	} else {
		l.attachLocked()
	}
	offset := l.offset
	l.renders++
	renders, mounted := l.renders, l.mounted
	l.mu.Unlock()

	frame := Frame[N]{
		Offset:      offset,
		Height:      l.cfg.Height,
		ItemHeight:  l.cfg.ItemHeight,
		TotalHeight: TotalHeight(n, l.cfg),
		ClassName:   l.opts.className,
	}
	if n == 0 {
		frame.Window = emptyWindow
		frame.Empty = true
		frame.EmptyMessage = l.opts.emptyMessage
	} else {
		// Config was validated in New, Compute cannot fail here.
		frame.Window, _ = Compute(offset, n, l.cfg)
		frame.Rows = make([]Row[N], 0, frame.Window.Len())
		for i := frame.Window.Start; i <= frame.Window.End; i++ {
			frame.Rows = append(frame.Rows, Row[N]{
				Index:  i,
				Top:    i * l.cfg.ItemHeight,
				Height: l.cfg.ItemHeight,
				Node:   l.render(items[i], i),
			})
		}
	}

	if mounted {
		took := time.Since(started)
		if renders == 1 {
			l.opts.monitor.Mounted(l.opts.name, took)
		} else {
			l.opts.monitor.Rendered(l.opts.name, renders-1, took)
		}
	}
	return frame
}

func (l *List[T, N]) onScroll(offset int) {
	l.ScrollTo(offset)
}

func (l *List[T, N]) attachLocked() {
	if !l.mounted || l.source == nil || l.unsubscribe != nil {
		return
	}
	l.unsubscribe = l.source.Subscribe(l.onScroll)
}

func (l *List[T, N]) detachLocked() {
	if l.unsubscribe == nil {
		return
	}
	l.unsubscribe()
	l.unsubscribe = nil
}
