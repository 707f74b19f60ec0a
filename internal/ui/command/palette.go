// Package command is the ':' command palette of the timeline view.
package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Command represents an available command
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Key         string // shortcut key if any
}

// DefaultCommands returns the built-in commands
func DefaultCommands() []Command {
	return []Command{
		{Name: "refresh", Aliases: []string{"fetch"}, Description: "Fetch new posts from every account", Key: "r"},
		{Name: "merge", Aliases: []string{"new", "show"}, Description: "Show buffered posts above your position", Key: "n"},
		{Name: "discard", Aliases: []string{"drop"}, Description: "Throw away buffered posts", Key: "X"},
		{Name: "top", Aliases: []string{"head"}, Description: "Jump to the newest post", Key: "g"},
		{Name: "bottom", Aliases: []string{"end", "older"}, Description: "Jump to the oldest loaded post", Key: "G"},
		{Name: "hide", Aliases: []string{"remove"}, Description: "Hide the selected post", Key: "x"},
		{Name: "density", Aliases: []string{"compact", "comfortable"}, Description: "Toggle compact/comfortable view"},
		{Name: "bands", Aliases: []string{"time"}, Description: "Toggle time band headers"},
		{Name: "debug", Aliases: []string{"events"}, Description: "Toggle the engine event overlay", Key: "D"},
		{Name: "help", Description: "Show all key bindings", Key: "?"},
		{Name: "quit", Aliases: []string{"exit", "q"}, Description: "Exit fedline", Key: "q"},
	}
}

// Palette is a command palette with substring matching
type Palette struct {
	input    textinput.Model
	commands []Command
	filtered []Command
	cursor   int
	width    int
	active   bool
}

// New creates a new command palette
func New() Palette {
	ti := textinput.New()
	ti.Placeholder = "command"
	ti.Prompt = ": "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#58a6ff")).Bold(true)
	ti.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#c9d1d9"))
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#58a6ff"))
	ti.CharLimit = 32

	return Palette{
		input:    ti,
		commands: DefaultCommands(),
		filtered: DefaultCommands(),
		width:    60,
	}
}

// Activate shows the palette
func (p *Palette) Activate() tea.Cmd {
	p.active = true
	p.input.SetValue("")
	p.filtered = p.commands
	p.cursor = 0
	return p.input.Focus()
}

// Deactivate hides the palette
func (p *Palette) Deactivate() {
	p.active = false
	p.input.Blur()
}

// IsActive returns whether palette is showing
func (p Palette) IsActive() bool {
	return p.active
}

// SetWidth sets the palette width
func (p *Palette) SetWidth(w int) {
	p.width = w
	p.input.Width = max(w-10, 1)
}

// Matches returns the commands matching the current input.
func (p Palette) Matches() []Command {
	return p.filtered
}

// SelectedCommand returns the currently selected command name
func (p Palette) SelectedCommand() string {
	if p.cursor >= 0 && p.cursor < len(p.filtered) {
		return p.filtered[p.cursor].Name
	}
	return ""
}

// Update handles input. The third return value is the chosen command name,
// set only when the user confirms a selection.
func (p Palette) Update(msg tea.Msg) (Palette, tea.Cmd, string) {
	if !p.active {
		return p, nil, ""
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc", "ctrl+c":
			p.Deactivate()
			return p, nil, ""

		case "enter":
			cmd := p.SelectedCommand()
			p.Deactivate()
			return p, nil, cmd

		case "up", "ctrl+p":
			if p.cursor > 0 {
				p.cursor--
			}
			return p, nil, ""

		case "down", "ctrl+n":
			if p.cursor < len(p.filtered)-1 {
				p.cursor++
			}
			return p, nil, ""

		case "tab":
			if len(p.filtered) > 0 {
				p.input.SetValue(p.filtered[p.cursor].Name)
				p.input.CursorEnd()
				p.filter()
			}
			return p, nil, ""
		}
	}

	oldValue := p.input.Value()

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)

	// Only filter when input actually changes
	if p.input.Value() != oldValue {
		p.filter()
	}

	return p, cmd, ""
}

func (p *Palette) filter() {
	query := strings.ToLower(strings.TrimSpace(p.input.Value()))
	if query == "" {
		p.filtered = p.commands
		p.cursor = 0
		return
	}

	var matches []Command
	for _, c := range p.commands {
		if matchesQuery(c, query) {
			matches = append(matches, c)
		}
	}

	p.filtered = matches
	if p.cursor >= len(p.filtered) {
		p.cursor = max(0, len(p.filtered)-1)
	}
}

func matchesQuery(c Command, query string) bool {
	if strings.Contains(c.Name, query) {
		return true
	}
	for _, alias := range c.Aliases {
		if strings.Contains(alias, query) {
			return true
		}
	}
	return false
}

// View renders the palette
func (p Palette) View() string {
	if !p.active {
		return ""
	}

	containerStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#30363d")).
		Padding(0, 1).
		Width(max(p.width-4, 10))

	itemStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#c9d1d9")).
		Padding(0, 1)

	selectedStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#58a6ff")).
		Background(lipgloss.Color("#21262d")).
		Bold(true).
		Padding(0, 1)

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#8b949e"))

	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#484f58")).
		Background(lipgloss.Color("#21262d")).
		Padding(0, 1)

	var b strings.Builder
	b.WriteString(p.input.View())
	b.WriteString("\n")

	// Commands (max 6 visible, scrolls with cursor)
	maxVisible := min(6, len(p.filtered))
	start := 0
	if p.cursor >= maxVisible {
		start = p.cursor - maxVisible + 1
	}
	end := min(start+maxVisible, len(p.filtered))

	for i := start; i < end; i++ {
		cmd := p.filtered[i]

		var line string
		if i == p.cursor {
			line = selectedStyle.Render("› "+cmd.Name) + descStyle.Render(" "+cmd.Description)
		} else {
			line = itemStyle.Render("  "+cmd.Name) + descStyle.Render(" "+cmd.Description)
		}

		if cmd.Key != "" {
			keyHint := keyStyle.Render(cmd.Key)
			padding := p.width - 10 - lipgloss.Width(line) - lipgloss.Width(keyHint)
			if padding > 0 {
				line += strings.Repeat(" ", padding) + keyHint
			}
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(p.filtered) == 0 {
		b.WriteString(descStyle.Render("  No matching commands"))
		b.WriteString("\n")
	}

	b.WriteString(descStyle.Render("↑↓ navigate  enter run  tab complete  esc cancel"))

	return containerStyle.Render(b.String())
}
