// Package vlist renders large lists through a window: only the rows that
// intersect the scroll viewport, plus an overscan margin on each side, are
// produced, while the reported total height stays len(items)*itemHeight so
// scrollbars behave as if every row were present.
//
// The window is pure derived state. Every Render recomputes it from the
// latest scroll offset and the item count it is handed, so replacing the
// item slice (filtering, reloads) never leaves a stale range behind.
//
// A List listens to exactly one ScrollSource while it is mounted and has
// rows to show. The subscription is released on Unmount and whenever a
// render falls into the empty state.
package vlist
