// Package display is the terminal front end of the widget: a tab per
// modality, rendered from the modality store and driven by the selection
// controller.
package display

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gosuda/multimodal/internal/modality"
	"github.com/gosuda/multimodal/internal/protocol"
)

const eventBuffer = 64

// Selector is the selection surface the display drives.
// *selection.Controller satisfies it.
type Selector interface {
	Select(ctx context.Context, kind modality.Kind) bool
	Active() modality.Kind
	OnChange(fn func(modality.Kind))
}

// StateMsg carries a modality transition into the program.
type StateMsg modality.Change

// ActiveMsg reports that the active tab changed.
type ActiveMsg modality.Kind

// ProgressMsg carries a host progress event.
type ProgressMsg protocol.Event

// Model is the bubbletea model for the widget.
type Model struct {
	ctx      context.Context
	store    *modality.Store
	selector Selector
	events   chan tea.Msg
	cancel   func()

	kinds    []modality.Kind
	active   modality.Kind
	progress string

	spinner  spinner.Model
	viewport viewport.Model
	theme    theme
	width    int
	height   int
}

// New creates the model and subscribes it to store and selector. Close
// releases the subscription.
func New(ctx context.Context, store *modality.Store, selector Selector) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		ctx:      ctx,
		store:    store,
		selector: selector,
		events:   make(chan tea.Msg, eventBuffer),
		kinds:    store.Kinds(),
		active:   selector.Active(),
		spinner:  sp,
		viewport: viewport.New(80, 20),
		theme:    defaultTheme(),
	}

	m.cancel = store.Subscribe(func(c modality.Change) { m.push(StateMsg(c)) })
	selector.OnChange(func(k modality.Kind) { m.push(ActiveMsg(k)) })
	m.refresh()
	return m
}

// Progress forwards a host progress event to the program.
func (m *Model) Progress(evt protocol.Event) {
	m.push(ProgressMsg(evt))
}

// Close ends the store subscription.
func (m *Model) Close() {
	m.cancel()
}

// push never blocks; the display re-reads the store on every message, so a
// dropped notification only delays a repaint.
func (m *Model) push(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

func (m *Model) waitEvent() tea.Msg {
	select {
	case msg := <-m.events:
		return msg
	case <-m.ctx.Done():
		return tea.Quit()
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitEvent)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(msg.Width-4, 10)
		m.viewport.Height = max(msg.Height-7, 3)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case StateMsg:
		m.refresh()
		return m, m.waitEvent

	case ActiveMsg:
		m.active = modality.Kind(msg)
		m.viewport.GotoTop()
		m.refresh()
		return m, m.waitEvent

	case ProgressMsg:
		m.progress = describeProgress(protocol.Event(msg))
		return m, m.waitEvent

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.store.Get(m.active).Status == modality.StatusLoading {
			m.refresh()
		}
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch key := msg.String(); key {
	case "q", "ctrl+c", "esc":
		return tea.Quit
	case "right", "l", "tab":
		return m.selectOffset(1)
	case "left", "h", "shift+tab":
		return m.selectOffset(-1)
	case "r":
		if m.active == "" {
			return nil
		}
		return m.selectCmd(m.active)
	default:
		if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(m.kinds) {
			return m.selectCmd(m.kinds[n-1])
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}
}

func (m *Model) selectOffset(delta int) tea.Cmd {
	if len(m.kinds) == 0 {
		return nil
	}
	idx := 0
	for i, k := range m.kinds {
		if k == m.active {
			idx = (i + delta + len(m.kinds)) % len(m.kinds)
			break
		}
	}
	return m.selectCmd(m.kinds[idx])
}

// selectCmd runs the selection off the update loop; its effects arrive as
// ActiveMsg and StateMsg.
func (m *Model) selectCmd(kind modality.Kind) tea.Cmd {
	return func() tea.Msg {
		m.selector.Select(m.ctx, kind)
		return nil
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.body())
}

func (m *Model) body() string {
	if m.active == "" {
		return m.theme.muted.Render("Waiting for the host to announce modalities...")
	}

	st := m.store.Get(m.active)
	switch st.Status {
	case modality.StatusLoading:
		return fmt.Sprintf("%s Loading %s...", m.spinner.View(), m.active)
	case modality.StatusFailed:
		return m.theme.errorStatus.Render("Error: " + st.Error)
	case modality.StatusReady:
		return renderValue(m.active, st.Value, m.theme)
	default:
		return m.theme.muted.Render("Not loaded yet.")
	}
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.header.Render("Multimodal"))
	b.WriteString("\n")
	b.WriteString(m.tabs())
	b.WriteString("\n")
	b.WriteString(m.theme.panel.Render(m.viewport.View()))
	b.WriteString("\n")

	footer := "←/→ switch · 1-" + strconv.Itoa(len(m.kinds)) + " jump · r reload · q quit"
	if m.progress != "" {
		footer = m.progress + " · " + footer
	}
	b.WriteString(m.theme.footer.Render(footer))
	return b.String()
}

func (m *Model) tabs() string {
	tabs := make([]string, len(m.kinds))
	for i, k := range m.kinds {
		label := fmt.Sprintf("%d %s %s", i+1, m.glyph(m.store.Get(k).Status), k)
		if k == m.active {
			tabs[i] = m.theme.tabActive.Render(label)
		} else {
			tabs[i] = m.theme.tabInactive.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m *Model) glyph(status modality.Status) string {
	switch status {
	case modality.StatusLoading:
		return "…"
	case modality.StatusReady:
		return "✓"
	case modality.StatusFailed:
		return "✗"
	default:
		return "·"
	}
}

func describeProgress(evt protocol.Event) string {
	switch evt.Status {
	case protocol.EventFailed:
		return fmt.Sprintf("%s failed: %s", evt.Type, evt.Error)
	case "":
		return evt.Type
	default:
		return fmt.Sprintf("%s %s", evt.Type, evt.Status)
	}
}
