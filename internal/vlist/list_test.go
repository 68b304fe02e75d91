package vlist

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func label(item int, index int) string {
	return fmt.Sprintf("item-%d@%d", item, index)
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

type recordingMonitor struct {
	mu        sync.Mutex
	mounted   int
	rendered  []int
	unmounted []int
}

func (m *recordingMonitor) Mounted(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted++
}

func (m *recordingMonitor) Rendered(_ string, updates int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rendered = append(m.rendered, updates)
}

func (m *recordingMonitor) Unmounted(_ string, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmounted = append(m.unmounted, updates)
}

func newTestList(t *testing.T, opts ...Option) *List[int, string] {
	t.Helper()
	l, err := New[int, string](500, 50, label, opts...)
	require.NoError(t, err)
	return l
}

func TestNewValidatesGeometry(t *testing.T) {
	_, err := New[int, string](500, 0, label)
	assert.ErrorIs(t, err, ErrInvalidItemHeight)

	_, err = New[int, string](0, 50, label)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New[int, string](500, 50, label, WithOverscan(-2))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New[int, string](500, 50, nil)
	assert.Error(t, err)

	l, err := New[int, string](500, 50, label)
	require.NoError(t, err)
	assert.Equal(t, DefaultOverscan, l.Config().Overscan)
}

func TestRenderScrolledWindow(t *testing.T) {
	feed := NewFeed()
	l := newTestList(t)
	require.NoError(t, l.Mount(feed))

	items := seq(1000)
	l.Render(items)
	assert.Equal(t, 1, feed.Emit(2000))

	frame := l.Render(items)

	assert.Equal(t, Window{Start: 35, End: 55}, frame.Window)
	assert.Equal(t, 50000, frame.TotalHeight)
	assert.Equal(t, 2000, frame.Offset)
	require.Len(t, frame.Rows, 21)
	for i, row := range frame.Rows {
		index := 35 + i
		assert.Equal(t, index, row.Index)
		assert.Equal(t, index*50, row.Top)
		assert.Equal(t, 50, row.Height)
		assert.Equal(t, label(index, index), row.Node)
	}
	assert.False(t, frame.Empty)
}

func TestRenderEmpty(t *testing.T) {
	feed := NewFeed()
	l := newTestList(t)
	require.NoError(t, l.Mount(feed))

	frame := l.Render(nil)

	assert.True(t, frame.Empty)
	assert.Equal(t, DefaultEmptyMessage, frame.EmptyMessage)
	assert.Equal(t, 0, frame.TotalHeight)
	assert.Empty(t, frame.Rows)
	assert.False(t, l.Listening())
	assert.Equal(t, 0, feed.Listeners())
}

func TestRenderEmptyCustomMessage(t *testing.T) {
	l := newTestList(t, WithEmptyMessage("Nessuna fattura"), WithClassName("invoices"))
	frame := l.Render([]int{})

	assert.Equal(t, "Nessuna fattura", frame.EmptyMessage)
	assert.Equal(t, "invoices", frame.ClassName)
}

func TestRenderAfterShrinkKeepsWindowOrdered(t *testing.T) {
	feed := NewFeed()
	l := newTestList(t)
	require.NoError(t, l.Mount(feed))

	l.Render(seq(1000))
	feed.Emit(2000)

	frame := l.Render(seq(10))

	assert.Equal(t, 9, frame.Window.End)
	assert.LessOrEqual(t, frame.Window.Start, frame.Window.End)
	require.Len(t, frame.Rows, 1)
	assert.Equal(t, 9, frame.Rows[0].Index)
	assert.Equal(t, 500, frame.TotalHeight)
}

func TestSubscriptionFollowsItems(t *testing.T) {
	feed := NewFeed()
	l := newTestList(t)
	require.NoError(t, l.Mount(feed))

	assert.False(t, l.Listening(), "listener is attached by the first non-empty render")

	l.Render(seq(5))
	assert.True(t, l.Listening())
	assert.Equal(t, 1, feed.Listeners())

	l.Render(seq(50))
	assert.Equal(t, 1, feed.Listeners(), "re-rendering must not subscribe twice")

	l.Render(nil)
	assert.False(t, l.Listening())
	assert.Equal(t, 0, feed.Listeners())

	l.Render(seq(3))
	assert.Equal(t, 1, feed.Listeners())

	l.Unmount()
	assert.Equal(t, 0, feed.Listeners())
	assert.False(t, l.Mounted())
}

func TestMountLifecycle(t *testing.T) {
	feed := NewFeed()
	l := newTestList(t)

	require.NoError(t, l.Mount(feed))
	assert.ErrorIs(t, l.Mount(feed), ErrAlreadyMounted)

	l.Render(seq(100))
	feed.Emit(300)
	assert.Equal(t, 300, l.Offset())

	l.Unmount()
	l.Unmount()
	assert.Equal(t, 0, l.Offset(), "viewport state is discarded on unmount")

	assert.Equal(t, 0, feed.Emit(900))
	assert.Equal(t, 0, l.Offset())

	require.NoError(t, l.Mount(feed), "an unmounted list can be mounted again")
}

func TestUnmountedListStillRenders(t *testing.T) {
	l := newTestList(t)
	frame := l.Render(seq(100))

	assert.Equal(t, Window{Start: 0, End: 15}, frame.Window)
	assert.False(t, l.Listening())
}

func TestScrollToClampsNegative(t *testing.T) {
	l := newTestList(t)
	l.ScrollTo(-40)
	assert.Equal(t, 0, l.Offset())

	l.ScrollTo(120)
	assert.Equal(t, Window{Start: 0, End: 17}, l.Window(1000))
}

func TestMonitorCallbacks(t *testing.T) {
	mon := &recordingMonitor{}
	l := newTestList(t, WithMonitor(mon), WithName("invoices"))

	require.NoError(t, l.Mount(NewFeed()))
	l.Render(seq(10))
	l.Render(seq(10))
	l.Render(seq(20))
	l.Unmount()

	assert.Equal(t, 1, mon.mounted)
	assert.Equal(t, []int{1, 2}, mon.rendered)
	assert.Equal(t, []int{2}, mon.unmounted)
}

func TestConcurrentScrollAndRender(t *testing.T) {
	feed := NewFeed()
	l := newTestList(t)
	require.NoError(t, l.Mount(feed))
	items := seq(1000)
	l.Render(items)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				feed.Emit((g*200 + i) * 50)
			}
		}(g)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				f := l.Render(items)
				if len(f.Rows) != f.Window.Len() {
					t.Errorf("rows %d do not match window %+v", len(f.Rows), f.Window)
				}
			}
		}()
	}
	wg.Wait()
}
