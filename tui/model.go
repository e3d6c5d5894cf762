package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dieseq/debug"
	"dieseq/rational"
	"dieseq/theme"
	"dieseq/tool"
	"dieseq/widgets"
)

// frameInterval redraws the playhead while playing
const frameInterval = time.Second / 30

// header and ruler lines sit above roll row 0
const rollTop = 1 + widgets.RulerHeight

type Model struct {
	session  *Session
	Theme    *theme.Theme
	roll     widgets.PianoRoll
	keys     keyMap
	help     help.Model
	changes  <-chan struct{}
	width    int
	height   int
	framing  bool
	quitting bool
}

// StoreMsg reports a timeline edit from any goroutine
type StoreMsg struct{}

// TransportMsg reports a play, stop or seek
type TransportMsg struct{}

type frameMsg struct{}

func NewModel(session *Session, th *theme.Theme) Model {
	h := help.New()
	h.Styles.ShortKey = lipgloss.NewStyle().Foreground(th.FG())
	h.Styles.ShortDesc = lipgloss.NewStyle().Foreground(th.Muted())
	h.Styles.FullKey = h.Styles.ShortKey
	h.Styles.FullDesc = h.Styles.ShortDesc
	return Model{
		session: session,
		Theme:   th,
		roll:    widgets.PianoRoll{Theme: th},
		keys:    defaultKeyMap(),
		help:    h,
		changes: session.Store.Watch(),
		width:   80,
		height:  24,
	}
}

func ListenForUpdates(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return msg
	}
}

func nextFrame() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg { return frameMsg{} })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForUpdates(m.changes, StoreMsg{}),
		ListenForUpdates(m.session.Player.UpdateChan, TransportMsg{}),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	ed := m.session.Editor

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			m.session.Player.Stop()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Panic):
			m.session.Player.Panic()
			ed.Status = "all notes off"
		default:
			ed.Handle(tool.Key{Key: msg.String()})
		}

	case tea.MouseMsg:
		if ev, ok := m.mouseEvent(msg); ok {
			ed.Handle(ev)
		}

	case StoreMsg:
		return m, ListenForUpdates(m.changes, StoreMsg{})

	case TransportMsg:
		cmds := []tea.Cmd{ListenForUpdates(m.session.Player.UpdateChan, TransportMsg{})}
		if m.session.Player.Playing() && !m.framing {
			m.framing = true
			cmds = append(cmds, nextFrame())
		}
		return m, tea.Batch(cmds...)

	case frameMsg:
		if !m.session.Player.Playing() {
			m.framing = false
			return m, nil
		}
		return m, nextFrame()
	}

	return m, nil
}

// mouseEvent converts terminal coordinates to roll cells
func (m Model) mouseEvent(msg tea.MouseMsg) (tool.Event, bool) {
	pos := tool.Point{X: msg.X - widgets.GutterWidth, Y: msg.Y - rollTop}
	var mods tool.Mods
	if msg.Shift {
		mods |= tool.Shift
	}
	if msg.Ctrl {
		mods |= tool.Ctrl
	}
	if msg.Alt {
		mods |= tool.Alt
	}

	switch msg.Action {
	case tea.MouseActionPress:
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			return tool.Scroll{Pos: pos, Delta: 1, Mods: mods}, true
		case tea.MouseButtonWheelDown:
			return tool.Scroll{Pos: pos, Delta: -1, Mods: mods}, true
		}
		// presses outside the roll do nothing; drags may leave it
		if pos.X < 0 || pos.Y < 0 || msg.Y >= rollTop+m.rollRows() {
			return nil, false
		}
		return tool.PointerDown{Pos: pos, Button: button(msg.Button), Mods: mods}, true
	case tea.MouseActionMotion:
		return tool.PointerMove{Pos: pos, Mods: mods}, true
	case tea.MouseActionRelease:
		return tool.PointerUp{Pos: pos, Button: button(msg.Button), Mods: mods}, true
	}
	debug.Log("tui", "ignored mouse %s", msg.String())
	return nil, false
}

func button(b tea.MouseButton) tool.Button {
	switch b {
	case tea.MouseButtonLeft:
		return tool.ButtonLeft
	case tea.MouseButtonRight:
		return tool.ButtonRight
	case tea.MouseButtonMiddle:
		return tool.ButtonMiddle
	}
	return tool.ButtonNone
}

// rollRows is the number of roll rows below the ruler
func (m Model) rollRows() int {
	// header, ruler, status and help lines
	return max(m.height-rollTop-2, 0)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := m.session
	ed := s.Editor
	tr := s.Player.Transport()

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	playState := "STOP"
	if tr.Playing() {
		playState = "PLAY"
	}
	st := widgets.Capture(s.Store)
	st.Position = tr.Position
	if rect, ok := ed.SelectionRect(); ok {
		st.Rect = &rect
	}

	tempo := s.Store.Tempo()
	header := headerStyle.Render(fmt.Sprintf("dieseq  %s  %sbpm  beat %s  %s  %d-step  %s",
		playState, tempo, shortBeat(tr.Position), ed.Tool, st.Tuning.StepsPerOctave(), filepath.Base(s.Path)))

	roll := m.roll.Render(st, ed.View, m.width, m.rollRows()+widgets.RulerHeight)

	status := dimStyle.Render(ed.Status)
	if strings.HasPrefix(ed.Status, "save failed") {
		status = warnStyle.Render(ed.Status)
	}

	var out strings.Builder
	out.WriteString(header)
	out.WriteString("\n")
	out.WriteString(roll)
	out.WriteString("\n")
	out.WriteString(status)
	out.WriteString("\n")
	out.WriteString(m.help.View(m.keys))
	return out.String()
}

// shortBeat shows the playhead to three decimals; exact values can grow long
func shortBeat(pos rational.Rat) string {
	return fmt.Sprintf("%.3f", pos.Float64())
}
