package converter

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

// mockFormat implements Format for testing
type mockFormat struct {
	id    string
	exts  []string
	songs []Song
	err   error
}

func (m *mockFormat) ID() string           { return m.id }
func (m *mockFormat) Name() string         { return "Mock " + m.id }
func (m *mockFormat) Description() string  { return "mock format" }
func (m *mockFormat) Extensions() []string { return m.exts }
func (m *mockFormat) Convert(data []byte, opts Options) (*Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &Result{Format: m.id, Songs: m.songs}, nil
}

func mockFormats() []Format {
	return []Format{
		&mockFormat{id: FormatGRC, exts: []string{".bin", ".gen"}},
		&mockFormat{id: FormatFMP, exts: []string{".opi"}},
		&mockFormat{id: FormatMIDI1to0, exts: []string{".mid", ".midi"}},
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		expected string
	}{
		{"test.mid", FormatMIDI1to0},
		{"TEST.MIDI", FormatMIDI1to0},
		{"sonic.gen", FormatGRC},
		{"dir/song.opi", FormatFMP},
		{"test.txt", ""},
		{"test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			result := DetectFormat(tt.filename, mockFormats())
			got := ""
			if result != nil {
				got = result.ID()
			}
			if got != tt.expected {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.filename, got, tt.expected)
			}
		})
	}
}

func TestDetectFormatFromContent(t *testing.T) {
	fmp := make([]byte, 0x30)
	fmp[0] = 0x02
	for pos := 0x04; pos < 0x2C; pos += 2 {
		fmp[pos] = 0x2C
	}
	badTable := append([]byte(nil), fmp...)
	badTable[0x04] = 0x10

	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"MIDI file", []byte("MThd\x00\x00\x00\x06"), FormatMIDI1to0},
		{"FMP song", fmp, FormatFMP},
		{"track table inside header", badTable, FormatUnknown},
		{"Short data", []byte{0x00, 0x01}, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetectFormatFromContent(tt.data)
			if result != tt.expected {
				t.Errorf("DetectFormatFromContent() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestConverterNew(t *testing.T) {
	format := &mockFormat{id: FormatFMP}
	conv := New(format, DefaultOptions())

	if conv == nil {
		t.Fatal("New() returned nil")
	}
	if conv.GetFormat() != format {
		t.Error("GetFormat() did not return the expected format")
	}

	other := &mockFormat{id: FormatGRC}
	conv.SetFormat(other)
	if conv.GetFormat() != other {
		t.Error("GetFormat() should return the new format after SetFormat")
	}
}

func TestConverterConvert(t *testing.T) {
	failure := errors.New("bad data")

	tests := []struct {
		name    string
		format  Format
		wantErr error
	}{
		{"no format", nil, nil},
		{"format error is wrapped", &mockFormat{id: FormatFMP, err: failure}, failure},
		{"no songs", &mockFormat{id: FormatGRC}, ErrNoSongs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := New(tt.format, DefaultOptions())
			_, err := conv.Convert([]byte{0x00})
			if err == nil {
				t.Fatal("Convert() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Convert() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	conv := New(&mockFormat{id: FormatFMP, songs: []Song{{Data: []byte("MThd")}}}, DefaultOptions())
	res, err := conv.Convert([]byte{0x00})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if len(res.Songs) != 1 {
		t.Errorf("Convert() returned %d songs, want 1", len(res.Songs))
	}
}

func TestOutputPaths(t *testing.T) {
	tests := []struct {
		name   string
		output string
		songs  []Song
		want   []string
	}{
		{
			name:   "single song",
			output: "out/song.mid",
			songs:  []Song{{}},
			want:   []string{"out/song.mid"},
		},
		{
			name:   "named songs",
			output: "out/rom.mid",
			songs:  []Song{{Index: 0, Name: "_00"}, {Index: 3, Name: "_03"}},
			want:   []string{"out/rom_00.mid", "out/rom_03.mid"},
		},
		{
			name:   "unnamed songs use their index",
			output: "rom",
			songs:  []Song{{Index: 0}, {Index: 0x1A}},
			want:   []string{"rom_00.mid", "rom_1A.mid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OutputPaths(tt.output, &Result{Songs: tt.songs})
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("OutputPaths() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "rom.bin")
	if err := os.WriteFile(input, []byte{0x00}, 0644); err != nil {
		t.Fatal(err)
	}

	format := &mockFormat{id: FormatGRC, songs: []Song{
		{Index: 0, Name: "_00", Data: []byte("first")},
		{Index: 1, Name: "_01", Data: []byte("second")},
	}}
	paths, err := New(format, DefaultOptions()).ConvertFile(input, "")
	if err != nil {
		t.Fatalf("ConvertFile() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("ConvertFile() wrote %d files, want 2", len(paths))
	}

	data, err := os.ReadFile(filepath.Join(dir, "rom_01.mid"))
	if err != nil {
		t.Fatalf("second song not written: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("rom_01.mid = %q, want %q", data, "second")
	}
}

func TestResultWarnings(t *testing.T) {
	res := &Result{Songs: []Song{
		{Warnings: []string{"track 1: bad"}},
		{Name: "_02", Warnings: []string{"track 0: worse"}},
	}}
	got := res.Warnings()
	want := []string{"track 1: bad", "02: track 0: worse"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Warnings() = %v, want %v", got, want)
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, o Options)
	}{
		{
			name: "keeps defaults",
			yaml: "loops: 3\n",
			check: func(t *testing.T, o Options) {
				if o.Loops != 3 {
					t.Errorf("Loops = %d, want 3", o.Loops)
				}
				if !o.OptimizeVolume || o.MaxOutput != DefaultMaxOutput {
					t.Error("defaults were overwritten")
				}
			},
		},
		{
			name: "all keys",
			yaml: "ticks_per_quarter: 96\nno_loop_extension: true\nsong_table: 4096\nsong_count: 5\ntracks: 12\n",
			check: func(t *testing.T, o Options) {
				if o.TPQ(48) != 96 || !o.NoLoopExtension || o.SongTable != 4096 || o.SongCount != 5 || o.Tracks != 12 {
					t.Errorf("options not applied: %+v", o)
				}
			},
		},
		{name: "unknown key", yaml: "loop: 3\n", wantErr: true},
		{name: "negative value", yaml: "tracks: -1\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			err := ParseOptions([]byte(tt.yaml), &opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, opts)
			}
		})
	}
}

func TestOptionsFallbacks(t *testing.T) {
	var o Options
	if o.LoopCount() != DefaultLoops {
		t.Errorf("LoopCount() = %d, want %d", o.LoopCount(), DefaultLoops)
	}
	if o.TPQ(24) != 24 {
		t.Errorf("TPQ(24) = %d, want 24", o.TPQ(24))
	}
	if o.Log() == nil {
		t.Error("Log() returned nil")
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Default()
	log.SetDefault(log.New(&buf))
	defer log.SetDefault(prev)

	var o Options
	o.Log().Warn("dropped SysEx", "offset", "0x0010")
	if buf.Len() != 0 {
		t.Errorf("nil logger wrote %q to the default logger", buf.String())
	}
}

func TestRolandDataSet(t *testing.T) {
	msg := RolandDataSet(0x10, 0x42, []byte{0x40, 0x00, 0x7F, 0x00})
	want := []byte{0x41, 0x10, 0x42, 0x12, 0x40, 0x00, 0x7F, 0x00, 0x41, 0xF7}
	if string(msg) != string(want) {
		t.Errorf("RolandDataSet() = % X, want % X", msg, want)
	}
	if err := ValidateSysEx(msg); err != nil {
		t.Errorf("ValidateSysEx() error = %v", err)
	}
	if !IsRolandSysEx(msg) {
		t.Error("IsRolandSysEx() should be true")
	}
}

func TestValidateSysEx(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		wantErr bool
	}{
		{"valid", []byte{0x41, 0x10, 0xF7}, false},
		{"missing end", []byte{0x41, 0x10, 0x42}, true},
		{"8-bit data", []byte{0x41, 0x90, 0xF7}, true},
		{"too short", []byte{0xF7}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSysEx(tt.body)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSysEx() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractManufacturerID(t *testing.T) {
	id, err := ExtractManufacturerID([]byte{0x00, 0x20, 0x32, 0x00, 0xF7})
	if err != nil {
		t.Fatalf("ExtractManufacturerID() error = %v", err)
	}
	if len(id) != 3 {
		t.Errorf("extended ID length = %d, want 3", len(id))
	}
	if _, err := ExtractManufacturerID([]byte{0x00, 0x20}); err == nil {
		t.Error("truncated extended ID should fail")
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"songs/title.opi", "songs/title.mid"},
		{"rom.bin", "rom.mid"},
		{"song.mid", "song_0.mid"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := DefaultOutputPath(tt.input); got != tt.want {
				t.Errorf("DefaultOutputPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
