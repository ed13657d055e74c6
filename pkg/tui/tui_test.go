package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestMenuLists(t *testing.T) {
	m := New(converter.DefaultOptions())
	view := m.View()
	for _, want := range []string{"GRC", "Twinkle Soft", "FMP", "MIDI 1 to 0", "Exit"} {
		if !strings.Contains(view, want) {
			t.Errorf("menu does not list %q", want)
		}
	}
}

func TestMenuNavigation(t *testing.T) {
	m := New(converter.DefaultOptions())

	next, _ := m.Update(key("j"))
	m = next.(Model)
	if m.menuIndex != 1 {
		t.Fatalf("menuIndex = %d, want 1", m.menuIndex)
	}

	next, _ = m.Update(key("k"))
	m = next.(Model)
	next, _ = m.Update(key("k"))
	m = next.(Model)
	if m.menuIndex != 0 {
		t.Errorf("menuIndex = %d, want 0", m.menuIndex)
	}

	next, _ = m.Update(key("enter"))
	m = next.(Model)
	if m.state != StateFilePicker {
		t.Fatalf("state = %v, want StateFilePicker", m.state)
	}
	if len(m.filePicker.AllowedTypes) == 0 {
		t.Error("file picker has no extension filter")
	}

	next, _ = m.Update(key("esc"))
	m = next.(Model)
	if m.state != StateMenu {
		t.Errorf("state = %v, want StateMenu", m.state)
	}
}

func TestExitEntryQuits(t *testing.T) {
	m := New(converter.DefaultOptions())
	m.menuIndex = len(m.items) - 1

	_, cmd := m.Update(key("enter"))
	if cmd == nil {
		t.Fatal("enter on Exit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("enter on Exit should quit")
	}
}

func TestResultView(t *testing.T) {
	m := New(converter.DefaultOptions())
	m.state = StateConverting
	m.input = "rom.bin"

	next, _ := m.Update(conversionDoneMsg{
		outputFiles: []string{"rom_00.mid", "rom_01.mid"},
		warnings:    []string{"01: track 2: unknown opcode"},
	})
	m = next.(Model)
	if m.state != StateResult {
		t.Fatalf("state = %v, want StateResult", m.state)
	}
	view := m.View()
	for _, want := range []string{"rom_00.mid", "rom_01.mid", "unknown opcode"} {
		if !strings.Contains(view, want) {
			t.Errorf("result view does not contain %q", want)
		}
	}

	next, _ = m.Update(key("enter"))
	m = next.(Model)
	if m.state != StateMenu || m.outputFiles != nil {
		t.Error("enter should return to a clean menu")
	}

	next, _ = m.Update(conversionDoneMsg{err: errors.New("input too short")})
	if next.(Model).state != StateResult {
		t.Fatal("a failed conversion should show the result screen")
	}
	if view := next.(Model).View(); !strings.Contains(view, "input too short") {
		t.Error("error view does not show the error")
	}
}

func TestOptionsScreen(t *testing.T) {
	m := New(converter.DefaultOptions())

	next, _ := m.Update(key("o"))
	m = next.(Model)
	if m.state != StateOptions {
		t.Fatalf("state = %v, want StateOptions", m.state)
	}

	steps := []struct {
		key   string
		check func(o converter.Options) bool
		desc  string
	}{
		{"l", func(o converter.Options) bool { return o.Loops == converter.DefaultLoops+1 }, "loops raised"},
		{"h", func(o converter.Options) bool { return o.Loops == converter.DefaultLoops }, "loops lowered"},
		{"j", func(o converter.Options) bool { return !o.NoLoopExtension }, "cursor moved without change"},
		{" ", func(o converter.Options) bool { return o.NoLoopExtension }, "loop extension turned off"},
		{"j", func(o converter.Options) bool { return !o.FixVolume }, "cursor moved without change"},
		{"enter", func(o converter.Options) bool { return o.FixVolume }, "dB volume turned on"},
	}
	for _, s := range steps {
		next, _ = m.Update(key(s.key))
		m = next.(Model)
		if !s.check(m.Options()) {
			t.Errorf("after %q: %s failed, options %+v", s.key, s.desc, m.Options())
		}
	}
	if !strings.Contains(m.View(), "dB volume curve") {
		t.Error("options view does not list the volume setting")
	}

	next, _ = m.Update(key("esc"))
	m = next.(Model)
	if m.state != StateMenu {
		t.Errorf("state = %v, want StateMenu", m.state)
	}
	if !m.Options().FixVolume {
		t.Error("options were lost when leaving the screen")
	}
}

func TestLoopCountBounds(t *testing.T) {
	opts := converter.DefaultOptions()
	opts.Loops = 1
	m := New(opts)
	m.state = StateOptions

	next, _ := m.Update(key("h"))
	if got := next.(Model).Options().Loops; got != 1 {
		t.Errorf("Loops = %d, want 1", got)
	}
}
