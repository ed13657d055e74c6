// Package tui provides a terminal user interface for midiconv
package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter/drivers"
)

// Phosphor color scheme of a PC-98 monitor
var (
	phosphor  = lipgloss.Color("#4AF626")
	amber     = lipgloss.Color("#FFB000")
	lightGray = lipgloss.Color("#C0C0C0")
	panelGray = lipgloss.Color("#333333")
	dimGray   = lipgloss.Color("#666666")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(phosphor).
			Background(panelGray).
			Padding(0, 2).
			MarginBottom(1)

	itemStyle   = lipgloss.NewStyle().Foreground(lightGray).PaddingLeft(2)
	cursorStyle = lipgloss.NewStyle().Foreground(phosphor).Bold(true).PaddingLeft(2)
	noteStyle   = lipgloss.NewStyle().Foreground(amber).PaddingLeft(4)
	warnStyle   = lipgloss.NewStyle().Foreground(amber)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(phosphor).Bold(true)
	keysStyle   = lipgloss.NewStyle().Foreground(dimGray).MarginTop(1)

	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(phosphor).
			Padding(1, 2)
)

// State represents the current TUI screen
type State int

const (
	StateMenu State = iota
	StateOptions
	StateFilePicker
	StateConverting
	StateResult
)

// MenuItem represents a menu option. A nil Format is the exit entry.
type MenuItem struct {
	Title       string
	Description string
	Format      converter.Format
}

// menuItems lists one entry per registered format plus Exit
func menuItems() []MenuItem {
	var items []MenuItem
	for _, f := range drivers.All() {
		items = append(items, MenuItem{
			Title:       fmt.Sprintf("%s → MIDI", f.Name()),
			Description: f.Description(),
			Format:      f,
		})
	}
	return append(items, MenuItem{Title: "Exit", Description: "Exit the application"})
}

// setting is one line of the options screen
type setting int

const (
	settingLoops setting = iota
	settingLoopExt
	settingFixVolume
	settingCount
)

const maxLoops = 16

// Model represents the TUI model
type Model struct {
	state       State
	items       []MenuItem
	menuIndex   int
	optIndex    setting
	filePicker  filepicker.Model
	spinner     spinner.Model
	opts        converter.Options
	job         MenuItem
	input       string
	outputFiles []string
	warnings    []string
	err         error
	width       int
	height      int
}

// conversionDoneMsg carries the outcome of a background conversion
type conversionDoneMsg struct {
	outputFiles []string
	warnings    []string
	err         error
}

// New creates a new TUI model converting with opts
func New(opts converter.Options) Model {
	fp := filepicker.New()
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(phosphor)

	return Model{
		state:      StateMenu,
		items:      menuItems(),
		filePicker: fp,
		spinner:    s,
		opts:       opts,
	}
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Options returns the conversion options as edited on the options screen.
func (m Model) Options() converter.Options {
	return m.opts
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// the file picker needs every message, not only keys
	if m.state == StateFilePicker {
		return m.updateFilePicker(msg)
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.filePicker.SetHeight(msg.Height - 10)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.state {
		case StateMenu:
			return m.updateMenu(msg)
		case StateOptions:
			return m.updateOptions(msg)
		case StateResult:
			return m.updateResult(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case conversionDoneMsg:
		m.state = StateResult
		m.outputFiles, m.warnings, m.err = msg.outputFiles, msg.warnings, msg.err
	}
	return m, nil
}

func (m Model) updateFilePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			m.state = StateMenu
			return m, nil
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.filePicker, cmd = m.filePicker.Update(msg)
	if ok, path := m.filePicker.DidSelectFile(msg); ok {
		m.input = path
		m.state = StateConverting
		return m, tea.Batch(m.spinner.Tick, convertCmd(m.job.Format, path, m.opts))
	}
	return m, cmd
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.menuIndex > 0 {
			m.menuIndex--
		}
	case "down", "j":
		if m.menuIndex < len(m.items)-1 {
			m.menuIndex++
		}
	case "o":
		m.state = StateOptions
	case "enter":
		item := m.items[m.menuIndex]
		if item.Format == nil {
			return m, tea.Quit
		}
		m.job = item
		m.state = StateFilePicker
		m.filePicker.AllowedTypes = item.Format.Extensions()
		return m, m.filePicker.Init()
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateOptions(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.optIndex > 0 {
			m.optIndex--
		}
	case "down", "j":
		if m.optIndex < settingCount-1 {
			m.optIndex++
		}
	case "left", "h", "-":
		m.adjust(-1)
	case "right", "l", "+", " ", "enter":
		m.adjust(1)
	case "esc", "o", "q":
		m.state = StateMenu
	}
	return m, nil
}

// adjust steps the loop count or flips a toggle
func (m *Model) adjust(dir int) {
	switch m.optIndex {
	case settingLoops:
		n := m.opts.LoopCount() + dir
		if n >= 1 && n <= maxLoops {
			m.opts.Loops = n
		}
	case settingLoopExt:
		m.opts.NoLoopExtension = !m.opts.NoLoopExtension
	case settingFixVolume:
		m.opts.FixVolume = !m.opts.FixVolume
	}
}

func (m Model) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.state = StateMenu
		m.input = ""
		m.outputFiles, m.warnings, m.err = nil, nil, nil
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

// convertCmd converts input in the background and writes one file per song
// next to it.
func convertCmd(format converter.Format, input string, opts converter.Options) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(input)
		if err != nil {
			return conversionDoneMsg{err: err}
		}
		res, err := converter.New(format, opts).Convert(data)
		if err != nil {
			return conversionDoneMsg{err: err}
		}

		paths := converter.OutputPaths(converter.DefaultOutputPath(input), res)
		for i, song := range res.Songs {
			if err := os.WriteFile(paths[i], song.Data, 0644); err != nil {
				return conversionDoneMsg{outputFiles: paths[:i], err: err}
			}
		}
		return conversionDoneMsg{outputFiles: paths, warnings: res.Warnings()}
	}
}

// View renders the TUI
func (m Model) View() string {
	var body, keys string
	switch m.state {
	case StateMenu:
		body, keys = m.viewMenu(), "↑/↓: navigate • enter: select • o: options • q: quit"
	case StateOptions:
		body, keys = m.viewOptions(), "↑/↓: navigate • ←/→: change • esc: back"
	case StateFilePicker:
		body, keys = m.viewFilePicker(), "esc: back to menu • q: quit"
	case StateConverting:
		body = m.viewConverting()
	case StateResult:
		body, keys = m.viewResult(), "enter: continue • q: quit"
	}

	out := logo() + "\n" + body
	if keys != "" {
		out += "\n" + keysStyle.Render(keys)
	}
	return out
}

// panel draws a titled frame around body
func panel(title, body string) string {
	return frameStyle.Render(headerStyle.Render(" "+title+" ") + "\n\n" + body)
}

func (m Model) viewMenu() string {
	var b strings.Builder
	for i, item := range m.items {
		if i != m.menuIndex {
			b.WriteString(itemStyle.Render("  "+item.Title) + "\n")
			continue
		}
		b.WriteString(cursorStyle.Render("▸ "+item.Title) + "\n")
		b.WriteString(noteStyle.Render(item.Description) + "\n")
	}
	return panel("SELECT SOURCE FORMAT", b.String())
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func (m Model) viewOptions() string {
	rows := [settingCount][2]string{
		{"Loops", fmt.Sprintf("%d", m.opts.LoopCount())},
		{"Extend short loops", onOff(!m.opts.NoLoopExtension)},
		{"dB volume curve", onOff(m.opts.FixVolume)},
	}

	var b strings.Builder
	for i, r := range rows {
		line := fmt.Sprintf("%-20s %s", r[0], r[1])
		if setting(i) == m.optIndex {
			b.WriteString(cursorStyle.Render("▸ "+line) + "\n")
		} else {
			b.WriteString(itemStyle.Render("  "+line) + "\n")
		}
	}
	return panel("OPTIONS", b.String())
}

func (m Model) viewFilePicker() string {
	title := fmt.Sprintf("SELECT %s FILE", strings.ToUpper(m.job.Format.Name()))
	return headerStyle.Render(" "+title+" ") + "\n\n" + m.filePicker.View()
}

func (m Model) viewConverting() string {
	body := fmt.Sprintf("%s Converting %s...\n", m.spinner.View(), filepath.Base(m.input))
	return panel("CONVERTING", body+warnStyle.Render("  "+m.job.Title))
}

func (m Model) viewResult() string {
	if m.err != nil {
		return panel("ERROR", failStyle.Render("✗ Conversion failed: "+m.err.Error()))
	}

	var b strings.Builder
	b.WriteString(okStyle.Render(fmt.Sprintf("✓ %d song(s) written", len(m.outputFiles))))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Input:  %s\n", filepath.Base(m.input))
	for _, out := range m.outputFiles {
		fmt.Fprintf(&b, "Output: %s\n", filepath.Base(out))
	}
	for _, w := range m.warnings {
		b.WriteString(warnStyle.Render("! "+w) + "\n")
	}
	return panel("DONE", b.String())
}

func logo() string {
	art := `
   __  __ ___ ____ ___    ____ ___  _   ___     __
  |  \/  |_ _|  _ \_ _|  / ___/ _ \| \ | \ \   / /
  | |\/| || || | | | |  | |  | | | |  \| |\ \ / /
  | |  | || || |_| | |  | |__| |_| | |\  | \ V /
  |_|  |_|___|____/___|  \____\___/|_| \_|  \_/
`
	return lipgloss.NewStyle().Foreground(phosphor).Render(art)
}

// Run starts the TUI application. Log output is discarded unless opts
// carries a logger, since it would draw over the screen.
func Run(opts converter.Options) error {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	_, err := tea.NewProgram(New(opts), tea.WithAltScreen()).Run()
	return err
}
