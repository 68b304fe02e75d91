package tui

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fatture/internal/core"
)

func invoices(n int) []core.Invoice {
	out := make([]core.Invoice, n)
	for i := range out {
		out[i] = core.Invoice{
			ID:           int64(i + 1),
			Merchant:     fmt.Sprintf("Negozio %03d", i),
			OrderNumber:  fmt.Sprintf("%d", 1000+i),
			PurchaseDate: core.NewDate(2024, 1, 1+i%28),
			Total:        core.Money{Cents: int64(100 * (i + 1))},
			Status:       core.StatusOpen,
		}
	}
	return out
}

func staticLoader(items []core.Invoice) Loader {
	return func(context.Context) ([]core.Invoice, error) {
		return items, nil
	}
}

// loaded returns a model sized to a ten-row list with items already loaded.
func loaded(t *testing.T, items []core.Invoice, opts ...Option) *Model {
	t.Helper()
	m := NewModel(context.Background(), staticLoader(items), opts...)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 10 + chromeRows})

	cmd := m.Init()
	require.NotNil(t, cmd)
	m.Update(cmd())
	return m
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_InitialFrame(t *testing.T) {
	m := loaded(t, invoices(100), WithOverscan(2))

	assert.Equal(t, 0, m.Offset())
	frame := m.Frame()
	assert.Equal(t, 0, frame.Window.Start)
	assert.Equal(t, 12, frame.Window.End, "ten visible rows plus two of overscan")
	assert.True(t, m.list.Listening())

	view := m.View()
	assert.Contains(t, view, "Negozio 000")
	assert.Contains(t, view, "Negozio 009")
	assert.NotContains(t, view, "Negozio 010", "overscan rows are not drawn")
	assert.Contains(t, view, "1-10 di 100")
}

func TestModel_KeyNavigation(t *testing.T) {
	m := loaded(t, invoices(100))

	tests := []struct {
		name string
		msg  tea.Msg
		want int
	}{
		{"down", tea.KeyMsg{Type: tea.KeyDown}, 1},
		{"j", keyRunes("j"), 2},
		{"up", tea.KeyMsg{Type: tea.KeyUp}, 1},
		{"page down", tea.KeyMsg{Type: tea.KeyPgDown}, 11},
		{"page up", tea.KeyMsg{Type: tea.KeyPgUp}, 1},
		{"end", tea.KeyMsg{Type: tea.KeyEnd}, 90},
		{"down at end stays", keyRunes("j"), 90},
		{"home", tea.KeyMsg{Type: tea.KeyHome}, 0},
		{"up at top stays", keyRunes("k"), 0},
	}
	for _, tt := range tests {
		m.Update(tt.msg)
		assert.Equal(t, tt.want, m.Offset(), tt.name)
		assert.Equal(t, tt.want, m.Frame().Offset, tt.name)
	}
}

func TestModel_MouseWheel(t *testing.T) {
	m := loaded(t, invoices(50))

	m.Update(tea.MouseMsg{Button: tea.MouseButtonWheelDown, Action: tea.MouseActionPress})
	m.Update(tea.MouseMsg{Button: tea.MouseButtonWheelDown, Action: tea.MouseActionPress})
	assert.Equal(t, 6, m.Offset())

	m.Update(tea.MouseMsg{Button: tea.MouseButtonWheelUp, Action: tea.MouseActionPress})
	assert.Equal(t, 3, m.Offset())
	assert.Contains(t, m.View(), "Negozio 003")
}

func TestModel_ResizeKeepsOffset(t *testing.T) {
	m := loaded(t, invoices(100))
	m.Update(tea.KeyMsg{Type: tea.KeyPgDown})
	old := m.list

	m.Update(tea.WindowSizeMsg{Width: 100, Height: 20 + chromeRows})

	assert.False(t, old.Mounted(), "previous list is unmounted")
	assert.True(t, m.list.Mounted())
	assert.Equal(t, 20, m.list.Config().Height)
	assert.Equal(t, 10, m.Offset())
	assert.Equal(t, 10, m.list.Offset())
	assert.Contains(t, m.View(), "11-30 di 100")
}

func TestModel_OffsetTravelsThroughFeed(t *testing.T) {
	m := loaded(t, invoices(100), WithOverscan(2))
	m.Update(tea.KeyMsg{Type: tea.KeyPgDown})
	m.Update(tea.KeyMsg{Type: tea.KeyPgDown})

	var seen []int
	stop := m.feed.Subscribe(func(offset int) { seen = append(seen, offset) })
	defer stop()

	// The new list is not listening when the offset is restored; it has to
	// attach before the feed delivers.
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 12 + chromeRows})

	assert.Equal(t, []int{20}, seen)
	assert.Equal(t, 2, m.feed.Listeners(), "the list and the observer")
	assert.Equal(t, 20, m.list.Offset())
	assert.Equal(t, 18, m.Frame().Window.Start)
	assert.Contains(t, m.View(), "21-32 di 100")
}

func TestModel_ReloadClampsOffset(t *testing.T) {
	items := invoices(100)
	calls := 0
	load := func(context.Context) ([]core.Invoice, error) {
		calls++
		if calls == 1 {
			return items, nil
		}
		return items[:15], nil
	}
	m := NewModel(context.Background(), load)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 10 + chromeRows})
	m.Update(m.Init()())
	m.Update(tea.KeyMsg{Type: tea.KeyEnd})
	require.Equal(t, 90, m.Offset())

	_, cmd := m.Update(ReloadMsg{})
	require.NotNil(t, cmd)
	m.Update(cmd())

	assert.Equal(t, 2, calls)
	assert.Len(t, m.Items(), 15)
	assert.Equal(t, 5, m.Offset())
}

func TestModel_ReloadKey(t *testing.T) {
	m := loaded(t, invoices(3))

	_, cmd := m.Update(keyRunes("r"))
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "caricamento")

	m.Update(cmd())
	assert.NotContains(t, m.View(), "caricamento")
}

func TestModel_Empty(t *testing.T) {
	m := loaded(t, nil)

	assert.True(t, m.Frame().Empty)
	assert.False(t, m.list.Listening(), "an empty list does not listen")
	assert.Contains(t, m.View(), emptyMessage)

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.Offset())
}

func TestModel_LoadError(t *testing.T) {
	m := loaded(t, invoices(20))

	m.Update(InvoicesMsg{Err: errors.New("backend down")})

	assert.EqualError(t, m.Err(), "backend down")
	assert.Len(t, m.Items(), 20, "items survive a failed reload")
	assert.Contains(t, m.View(), "Errore: backend down")

	m.Update(InvoicesMsg{Items: invoices(5)})
	assert.NoError(t, m.Err())
}

func TestModel_Quit(t *testing.T) {
	for _, msg := range []tea.KeyMsg{keyRunes("q"), {Type: tea.KeyCtrlC}} {
		m := loaded(t, invoices(5))

		_, cmd := m.Update(msg)

		require.NotNil(t, cmd)
		assert.False(t, m.list.Mounted())
		assert.False(t, m.list.Listening())
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	assert.Equal(t, "caffè", truncate("caffè", 5))
}
