package vlist

import (
	"errors"
	"fmt"
)

// DefaultOverscan is the number of rows rendered beyond each viewport edge
// when no overscan is configured.
const DefaultOverscan = 5

var (
	// ErrInvalidItemHeight reports a non-positive item height. Offsets would
	// otherwise divide by zero.
	ErrInvalidItemHeight = errors.New("vlist: item height must be positive")

	// ErrInvalidConfig reports any other unusable geometry.
	ErrInvalidConfig = errors.New("vlist: invalid config")
)

// Config is the geometry a window is computed from. All values are pixels
// (or terminal rows) except Overscan, which counts items.
type Config struct {
	Height     int
	ItemHeight int
	Overscan   int
}

// Validate fails fast on geometry the window math cannot handle.
func (c Config) Validate() error {
	if c.ItemHeight <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidItemHeight, c.ItemHeight)
	}
	if c.Height <= 0 {
		return fmt.Errorf("%w: height must be positive, got %d", ErrInvalidConfig, c.Height)
	}
	if c.Overscan < 0 {
		return fmt.Errorf("%w: overscan must not be negative, got %d", ErrInvalidConfig, c.Overscan)
	}
	return nil
}

// MaxRows is the largest number of rows a window can hold for this config:
// ceil(height/itemHeight) + 2*overscan + 1.
func (c Config) MaxRows() int {
	return (c.Height+c.ItemHeight-1)/c.ItemHeight + 2*c.Overscan + 1
}

// Window is an inclusive range of item indices. The empty window has
// End < Start.
type Window struct {
	Start int
	End   int
}

// Len returns the number of indices in the window.
func (w Window) Len() int {
	if w.End < w.Start {
		return 0
	}
	return w.End - w.Start + 1
}

// Empty reports whether the window holds no indices.
func (w Window) Empty() bool {
	return w.Len() == 0
}

// Contains reports whether index falls inside the window.
func (w Window) Contains(index int) bool {
	return index >= w.Start && index <= w.End
}

var emptyWindow = Window{Start: 0, End: -1}

// Compute returns the window of items intersecting
// [offset - overscan*itemHeight, offset + height + overscan*itemHeight].
//
//	start = max(0, floor(offset/itemHeight) - overscan)
//	end   = min(count-1, floor((offset+height)/itemHeight) + overscan)
//
// start is then clamped to end, so an offset left over from a longer list
// still yields a valid range ending at the last item. Negative offsets are
// treated as zero.
func Compute(offset, count int, c Config) (Window, error) {
	if err := c.Validate(); err != nil {
		return emptyWindow, err
	}
	if count <= 0 {
		return emptyWindow, nil
	}
	if offset < 0 {
		offset = 0
	}
	start := max(0, offset/c.ItemHeight-c.Overscan)
	end := min(count-1, (offset+c.Height)/c.ItemHeight+c.Overscan)
	start = min(start, end)
	return Window{Start: start, End: end}, nil
}

// TotalHeight is the scrollable height of count items.
func TotalHeight(count int, c Config) int {
	if count <= 0 {
		return 0
	}
	return count * c.ItemHeight
}

// MaxOffset is the largest offset that still scrolls content: the total
// height minus one viewport, never negative.
func MaxOffset(count int, c Config) int {
	return max(0, TotalHeight(count, c)-c.Height)
}
