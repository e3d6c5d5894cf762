package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap lists the bindings shown in the help line. Editing keys are passed
// to the tool editor by name; the bindings here only describe them.
type keyMap struct {
	Play     key.Binding
	Arrow    key.Binding
	Pencil   key.Binding
	Delete   key.Binding
	Save     key.Binding
	Tempo    key.Binding
	Loop     key.Binding
	Nudge    key.Binding
	Deselect key.Binding
	Home     key.Binding
	Panic    key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Play:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/stop")),
		Arrow:    key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "arrow")),
		Pencil:   key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "pencil")),
		Delete:   key.NewBinding(key.WithKeys("d", "delete", "backspace"), key.WithHelp("d", "delete")),
		Save:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save")),
		Tempo:    key.NewBinding(key.WithKeys("+", "=", "-", "_"), key.WithHelp("+/-", "tempo")),
		Loop:     key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "loop selection")),
		Nudge:    key.NewBinding(key.WithKeys("left", "right", "up", "down"), key.WithHelp("←→↑↓", "nudge")),
		Deselect: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "deselect")),
		Home:     key.NewBinding(key.WithKeys("home"), key.WithHelp("home", "rewind")),
		Panic:    key.NewBinding(key.WithKeys("!"), key.WithHelp("!", "all notes off")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Arrow, k.Pencil, k.Delete, k.Save, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Home, k.Tempo, k.Loop, k.Panic},
		{k.Arrow, k.Pencil, k.Delete, k.Nudge, k.Deselect},
		{k.Save, k.Help, k.Quit},
	}
}
