package ui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"scopetrace/internal/calltree"
	"scopetrace/internal/viewswap"
)

const refreshInterval = 250 * time.Millisecond

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
	Select key.Binding
	Source key.Binding
	Pause  key.Binding
	Quit   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle: key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "open/close")),
		Select: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "select")),
		Source: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next context")),
		Pause:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "stop/start")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) help() string {
	bindings := []key.Binding{k.Up, k.Down, k.Toggle, k.Select, k.Source, k.Pause, k.Quit}
	parts := make([]string, len(bindings))
	for i, b := range bindings {
		parts[i] = b.Help().Key + " " + b.Help().Desc
	}
	return strings.Join(parts, " · ")
}

type refreshMsg time.Time

type treeModel struct {
	sw      *viewswap.Swapper
	keys    keyMap
	spinner spinner.Model

	rows   []Row
	cursor int
	source string
	frames int
	paused bool
	width  int
	height int
}

// NewTreeModel returns a Bubble Tea model browsing the displaying view of
// sw. The swapper must be ticked elsewhere.
func NewTreeModel(sw *viewswap.Swapper) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	m := &treeModel{
		sw:      sw,
		keys:    defaultKeyMap(),
		spinner: sp,
		width:   100,
		height:  30,
	}
	m.reload()
	return m
}

// Run shows the tree until the user quits or ctx is done.
func Run(ctx context.Context, sw *viewswap.Swapper) error {
	p := tea.NewProgram(NewTreeModel(sw), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m *treeModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refresh())
}

func (m *treeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		m.reload()
		return m, refresh()
	case spinner.TickMsg:
		if m.paused {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		if msg.Height > 0 {
			m.height = msg.Height
		}
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *treeModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.cursor = max(m.cursor-1, 0)
	case key.Matches(msg, m.keys.Down):
		m.cursor = min(m.cursor+1, max(len(m.rows)-1, 0))
	case key.Matches(msg, m.keys.Toggle):
		m.withCurrent(Toggle)
	case key.Matches(msg, m.keys.Select):
		m.withCurrent(SelectPath)
	case key.Matches(msg, m.keys.Source):
		m.nextSource()
	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused
		m.sw.SetEnabled(!m.paused)
		if !m.paused {
			return m.spinner.Tick
		}
	}
	return nil
}

func (m *treeModel) withCurrent(fn func(*calltree.View, []string) bool) {
	if m.cursor >= len(m.rows) {
		return
	}
	path := m.rows[m.cursor].Path
	m.sw.Display(func(v *calltree.View) { fn(v, path) })
	m.reload()
}

func (m *treeModel) nextSource() {
	names := m.sw.ThreadNames()
	if len(names) == 0 {
		return
	}
	next := names[0]
	if i := slices.Index(names, m.source); i >= 0 {
		next = names[(i+1)%len(names)]
	}
	m.sw.Select(next)
	m.source = next
	m.cursor = 0
}

func (m *treeModel) reload() {
	m.sw.Display(func(v *calltree.View) {
		m.rows = Rows(v)
		m.frames = v.FrameCount()
		if name := v.ConnectionName(); name != "" {
			m.source = name
		}
	})
	m.cursor = min(m.cursor, max(len(m.rows)-1, 0))
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cursorStyle   = lipgloss.NewStyle().Reverse(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	emptyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func (m *treeModel) View() string {
	header := fmt.Sprintf("%s %s · %s frames", m.spinner.View(), sourceLabel(m.source), printer.Sprintf("%d", m.frames))
	if m.paused {
		header = "paused: " + sourceLabel(m.source)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := max(m.width-numberColumns-2, minNameWidth)
	b.WriteString(headerStyle.Render(runewidth.FillRight("scope", nameWidth) +
		fmt.Sprintf("%12s%12s%12s%12s%10s", "ms/frame", "self", "ms/inst", "max", "count")))
	b.WriteString("\n")

	if len(m.rows) == 0 {
		b.WriteString(emptyStyle.Render("  no data"))
		b.WriteString("\n")
	}

	first, last := m.visibleRange()
	for i := first; i < last; i++ {
		r := m.rows[i]
		line := runewidth.FillRight(rowLabel(r, nameWidth), nameWidth) + numbers(r)
		switch {
		case i == m.cursor:
			line = cursorStyle.Render(line)
		case r.Selected:
			line = selectedStyle.Render(line)
		case r.Empty:
			line = emptyStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.keys.help()))
	b.WriteString("\n")
	return b.String()
}

// visibleRange keeps the cursor on screen.
func (m *treeModel) visibleRange() (int, int) {
	const chrome = 6
	page := max(m.height-chrome, 1)
	first := 0
	if m.cursor >= page {
		first = m.cursor - page + 1
	}
	return first, min(first+page, len(m.rows))
}
