package vlist

import (
	"fmt"
	"html/template"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func htmlLabel(item string, index int) template.HTML {
	return template.HTML(fmt.Sprintf("<span>%s</span>", template.HTMLEscapeString(item)))
}

func TestHTMLRowsAndHeights(t *testing.T) {
	l, err := New[string, template.HTML](500, 50, htmlLabel, WithClassName("invoices"))
	require.NoError(t, err)

	items := make([]string, 1000)
	for i := range items {
		items[i] = fmt.Sprintf("row %d", i)
	}
	l.ScrollTo(2000)

	out := string(HTML(l.Render(items), `hx-post="/scroll"`))

	assert.Contains(t, out, `class="vlist overflow-auto invoices"`)
	assert.Contains(t, out, `height: 500px`)
	assert.Contains(t, out, `height: 50000px; position: relative;`)
	assert.Contains(t, out, `hx-post="/scroll"`)
	assert.Equal(t, 21, strings.Count(out, `class="vlist-row"`))
	assert.Contains(t, out, `data-index="35"`)
	assert.Contains(t, out, `translateY(1750px)`)
	assert.Contains(t, out, `data-index="55"`)
	assert.Contains(t, out, `translateY(2750px)`)
	assert.NotContains(t, out, `data-index="34"`)
	assert.NotContains(t, out, `data-index="56"`)
	assert.Contains(t, out, `<span>row 40</span>`)
}

func TestHTMLEmptyState(t *testing.T) {
	l, err := New[string, template.HTML](500, 50, htmlLabel, WithEmptyMessage("<none>"))
	require.NoError(t, err)

	out := string(HTML(l.Render(nil), `hx-post="/scroll"`))

	assert.Contains(t, out, `<p>&lt;none&gt;</p>`)
	assert.NotContains(t, out, "vlist-row")
	assert.NotContains(t, out, "overflow-auto")
	assert.NotContains(t, out, "hx-post")
}
