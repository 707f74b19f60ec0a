package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap is the set of bindings the timeline view responds to.
type keyMap struct {
	Down     key.Binding
	Up       key.Binding
	PageDown key.Binding
	PageUp   key.Binding
	Top      key.Binding
	Bottom   key.Binding
	Merge    key.Binding
	Refresh  key.Binding
	Discard  key.Binding
	Hide     key.Binding
	Debug    key.Binding
	Help     key.Binding
	Command  key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/k", "nav")),
		Up:       key.NewBinding(key.WithKeys("k", "up")),
		PageDown: key.NewBinding(key.WithKeys("ctrl+d", "pgdown", " "), key.WithHelp("^d/^u", "page")),
		PageUp:   key.NewBinding(key.WithKeys("ctrl+u", "pgup")),
		Top:      key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g/G", "top/end")),
		Bottom:   key.NewBinding(key.WithKeys("G", "end")),
		Merge:    key.NewBinding(key.WithKeys("n", "."), key.WithHelp("n", "show new")),
		Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Discard:  key.NewBinding(key.WithKeys("X"), key.WithHelp("X", "drop new")),
		Hide:     key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "hide")),
		Debug:    key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "debug")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Command:  key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "command")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Down, k.Merge, k.Refresh, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Down, k.PageDown, k.Top},
		{k.Merge, k.Refresh, k.Discard, k.Hide},
		{k.Command, k.Debug, k.Help, k.Quit},
	}
}
