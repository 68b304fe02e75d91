// Package tui is the terminal invoice browser. It drives the same windowed
// list as the web UI, one terminal row per invoice.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"fatture/internal/core"
	"fatture/internal/log"
	"fatture/internal/vlist"
)

const (
	// chromeRows is the header, the status line and the help line.
	chromeRows = 3

	wheelStep = 3

	defaultWidth  = 80
	defaultHeight = 24

	emptyMessage = "Nessuna fattura"
)

var (
	ColorHeader = lipgloss.Color("63")
	ColorMuted  = lipgloss.Color("241")
	ColorError  = lipgloss.Color("196")
	ColorOdd    = lipgloss.Color("236")

	statusColors = map[core.Status]lipgloss.Color{
		core.StatusOpen:      lipgloss.Color("214"),
		core.StatusPaid:      lipgloss.Color("42"),
		core.StatusRefunded:  lipgloss.Color("39"),
		core.StatusCancelled: ColorMuted,
	}
)

// Loader fetches the invoices to browse.
type Loader func(ctx context.Context) ([]core.Invoice, error)

// InvoicesMsg carries the result of a load.
type InvoicesMsg struct {
	Items []core.Invoice
	Err   error
}

// ReloadMsg asks the model to load the invoices again. Send it from outside
// the program when the data changed.
type ReloadMsg struct{}

// Model is the Bubble Tea model of the browser.
type Model struct {
	ctx    context.Context
	load   Loader
	logger *log.Logger

	feed     *vlist.Feed
	list     *vlist.List[core.Invoice, string]
	frame    vlist.Frame[string]
	overscan int

	items   []core.Invoice
	offset  int
	loading bool
	err     error

	width  int
	height int

	keys KeyMap
	help help.Model

	headerStyle lipgloss.Style
	mutedStyle  lipgloss.Style
	errorStyle  lipgloss.Style
	oddStyle    lipgloss.Style
}

// Option customises a Model.
type Option func(*Model)

// WithOverscan sets the rows rendered beyond each edge of the terminal.
func WithOverscan(n int) Option {
	return func(m *Model) { m.overscan = n }
}

// WithLogger sets the logger used for list lifecycle events.
func WithLogger(logger *log.Logger) Option {
	return func(m *Model) { m.logger = logger }
}

// NewModel creates a browser over load. Nothing is fetched until Init.
func NewModel(ctx context.Context, load Loader, opts ...Option) *Model {
	m := &Model{
		ctx:      ctx,
		load:     load,
		logger:   log.Discard(),
		feed:     vlist.NewFeed(),
		overscan: vlist.DefaultOverscan,
		loading:  true,
		width:    defaultWidth,
		height:   defaultHeight,
		keys:     DefaultKeyMap(),
		help:     help.New(),

		headerStyle: lipgloss.NewStyle().Foreground(ColorHeader).Bold(true),
		mutedStyle:  lipgloss.NewStyle().Foreground(ColorMuted),
		errorStyle:  lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		oddStyle:    lipgloss.NewStyle().Background(ColorOdd),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent(log.ComponentTUI)
	m.rebuild()
	return m
}

// Init starts the first load.
func (m *Model) Init() tea.Cmd {
	return m.loadCmd()
}

// Update handles keys, mouse wheel, resizes and load results.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.rebuild()
		return m, nil

	case InvoicesMsg:
		m.loading = false
		if msg.Err != nil {
			m.err = msg.Err
			m.logger.Error("Failed to load invoices", log.FieldError, msg.Err)
			return m, nil
		}
		m.err = nil
		m.items = msg.Items
		m.scrollTo(m.offset)
		return m, nil

	case ReloadMsg:
		m.loading = true
		return m, m.loadCmd()

	case tea.MouseMsg:
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			m.scrollTo(m.offset - wheelStep)
		case tea.MouseButtonWheelDown:
			m.scrollTo(m.offset + wheelStep)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}
	return m, nil
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	page := m.listHeight()
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.list.Unmount()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.scrollTo(m.offset - 1)
	case key.Matches(msg, m.keys.Down):
		m.scrollTo(m.offset + 1)
	case key.Matches(msg, m.keys.PageUp):
		m.scrollTo(m.offset - page)
	case key.Matches(msg, m.keys.PageDown):
		m.scrollTo(m.offset + page)
	case key.Matches(msg, m.keys.Home):
		m.scrollTo(0)
	case key.Matches(msg, m.keys.End):
		m.scrollTo(m.maxOffset())
	case key.Matches(msg, m.keys.Reload):
		m.loading = true
		return m, m.loadCmd()
	}
	return m, nil
}

// View draws the rows of the last frame that fall inside the terminal.
func (m *Model) View() string {
	var b strings.Builder

	title := "Fatture"
	switch {
	case m.loading:
		title += " · caricamento…"
	case len(m.items) > 0:
		last := min(m.offset+m.listHeight(), len(m.items))
		title += fmt.Sprintf(" · %d-%d di %d", m.offset+1, last, len(m.items))
	}
	b.WriteString(m.headerStyle.Render(title))
	b.WriteByte('\n')

	lines := 0
	if m.frame.Empty && !m.loading {
		b.WriteString(m.mutedStyle.Render(m.frame.EmptyMessage))
		b.WriteByte('\n')
		lines++
	}
	for _, row := range m.frame.Rows {
		if row.Top < m.offset || row.Top >= m.offset+m.listHeight() {
			continue
		}
		b.WriteString(row.Node)
		b.WriteByte('\n')
		lines++
	}
	for ; lines < m.listHeight(); lines++ {
		b.WriteByte('\n')
	}

	if m.err != nil {
		b.WriteString(m.errorStyle.Render("Errore: " + m.err.Error()))
	}
	b.WriteByte('\n')
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// Offset returns the first visible row.
func (m *Model) Offset() int {
	return m.offset
}

// Frame returns the last rendered frame.
func (m *Model) Frame() vlist.Frame[string] {
	return m.frame
}

// Items returns the invoices currently loaded.
func (m *Model) Items() []core.Invoice {
	return m.items
}

// Err returns the last load error, nil once a load succeeds.
func (m *Model) Err() error {
	return m.err
}

func (m *Model) loadCmd() tea.Cmd {
	ctx, load := m.ctx, m.load
	return func() tea.Msg {
		items, err := load(ctx)
		return InvoicesMsg{Items: items, Err: err}
	}
}

func (m *Model) listHeight() int {
	return max(1, m.height-chromeRows)
}

func (m *Model) maxOffset() int {
	return vlist.MaxOffset(len(m.items), m.list.Config())
}

// scrollTo moves the viewport the way a terminal scroll would. The offset
// reaches the list only through the feed, so a list that is not listening
// yet renders once first to attach.
func (m *Model) scrollTo(offset int) {
	m.offset = max(0, min(offset, m.maxOffset()))
	if !m.list.Listening() {
		m.list.Render(m.items)
	}
	m.feed.Emit(m.offset)
	m.frame = m.list.Render(m.items)
}

// rebuild replaces the list after a size change. The geometry is fixed per
// list, so a new terminal height needs a new one.
func (m *Model) rebuild() {
	if m.list != nil {
		m.list.Unmount()
	}
	list, err := vlist.New(m.listHeight(), 1, m.renderRow,
		vlist.WithOverscan(m.overscan),
		vlist.WithEmptyMessage(emptyMessage),
		vlist.WithName("tui"),
		vlist.WithMonitor(vlist.NewLogMonitor(m.logger)),
	)
	if err != nil {
		// Only a negative overscan gets here.
		m.logger.Warn("Invalid list geometry, using defaults", log.FieldError, err)
		list, _ = vlist.New(m.listHeight(), 1, m.renderRow, vlist.WithEmptyMessage(emptyMessage))
	}
	if err := list.Mount(m.feed); err != nil {
		m.logger.Error("Failed to mount invoice list", log.FieldError, err)
	}
	m.list = list
	m.scrollTo(m.offset)
}

func (m *Model) renderRow(inv core.Invoice, index int) string {
	status := string(inv.Status)
	if c, ok := statusColors[inv.Status]; ok {
		status = lipgloss.NewStyle().Foreground(c).Render(status)
	}
	order := ""
	if inv.OrderNumber != "" {
		order = "#" + inv.OrderNumber
	}
	line := fmt.Sprintf("%s  %-28s %-14s %11s  %s",
		inv.PurchaseDate.Format("02/01/2006"),
		truncate(inv.Merchant, 28),
		truncate(order, 14),
		inv.Total.String(),
		status)

	style := lipgloss.NewStyle().MaxWidth(m.width)
	if index%2 == 1 {
		style = m.oddStyle.MaxWidth(m.width)
	}
	return style.Render(line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
