package drivers

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
)

func quietOptions() converter.Options {
	opts := converter.DefaultOptions()
	opts.Logger = log.New(io.Discard)
	return opts
}

// trackBodies splits an SMF into the event data of its MTrk chunks.
func trackBodies(t *testing.T, data []byte) [][]byte {
	t.Helper()
	if len(data) < 14 || string(data[:4]) != "MThd" {
		t.Fatalf("output does not start with MThd: % X", data)
	}
	var bodies [][]byte
	pos := 14
	for pos < len(data) {
		if pos+8 > len(data) || string(data[pos:pos+4]) != "MTrk" {
			t.Fatalf("no MTrk chunk at 0x%X", pos)
		}
		n := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		if pos+8+n > len(data) {
			t.Fatalf("track at 0x%X is %d bytes, only %d left", pos, n, len(data)-pos-8)
		}
		bodies = append(bodies, data[pos+8:pos+8+n])
		pos += 8 + n
	}
	return bodies
}

// noteOnCount parses data with gomidi and counts Note On events with a
// velocity above zero.
func noteOnCount(t *testing.T, data []byte) int {
	t.Helper()
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("smf.ReadFrom() error = %v", err)
	}
	count := 0
	for _, track := range s.Tracks {
		for _, ev := range track {
			var ch, key, vel uint8
			if ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0 {
				count++
			}
		}
	}
	return count
}

func TestLookup(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"grc", converter.FormatGRC},
		{"Twinkle", converter.FormatTwinkle},
		{"FMP", converter.FormatFMP},
		{"midi1to0", converter.FormatMIDI1to0},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			f, err := Lookup(tt.id)
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v", tt.id, err)
			}
			if f.ID() != tt.want {
				t.Errorf("Lookup(%q).ID() = %q, want %q", tt.id, f.ID(), tt.want)
			}
		})
	}

	if _, err := Lookup("smps"); !errors.Is(err, converter.ErrUnknownFormat) {
		t.Errorf("Lookup(\"smps\") error = %v, want %v", err, converter.ErrUnknownFormat)
	}
}

func TestRegistryIsConsistent(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range All() {
		if seen[f.ID()] {
			t.Errorf("duplicate format ID %q", f.ID())
		}
		seen[f.ID()] = true
		if f.Name() == "" || f.Description() == "" || len(f.Extensions()) == 0 {
			t.Errorf("format %q is missing name, description or extensions", f.ID())
		}
	}
	if len(IDs()) != len(All()) {
		t.Errorf("IDs() returned %d entries, want %d", len(IDs()), len(All()))
	}

	if f := converter.DetectFormat("song.MID", All()); f == nil || f.ID() != converter.FormatMIDI1to0 {
		t.Errorf("DetectFormat(\"song.MID\") = %v, want midi1to0", f)
	}
	if f := converter.DetectFormat("music.opi", All()); f == nil || f.ID() != converter.FormatFMP {
		t.Errorf("DetectFormat(\"music.opi\") = %v, want fmp", f)
	}
}

func TestMIDI1to0Convert(t *testing.T) {
	src := []byte{
		'M', 'T', 'h', 'd', 0, 0, 0, 6, 0, 1, 0, 2, 0, 0x30,
		'M', 'T', 'r', 'k', 0, 0, 0, 8,
		0x00, 0x90, 0x3C, 0x64,
		0x00, 0xFF, 0x2F, 0x00,
		'M', 'T', 'r', 'k', 0, 0, 0, 8,
		0x10, 0x80, 0x3C, 0x00,
		0x00, 0xFF, 0x2F, 0x00,
	}

	res, err := NewMIDI1to0().Convert(src, quietOptions())
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if len(res.Songs) != 1 {
		t.Fatalf("Convert() returned %d songs, want 1", len(res.Songs))
	}
	out := res.Songs[0].Data
	if out[9] != 0 || out[11] != 1 {
		t.Errorf("header format/tracks = %d/%d, want 0/1", out[9], out[11])
	}
	want := []byte{0x00, 0x90, 0x3C, 0x64, 0x10, 0x80, 0x3C, 0x00, 0x00, 0xFF, 0x2F, 0x00}
	if body := trackBodies(t, out)[0]; !bytes.Equal(body, want) {
		t.Errorf("body = % X, want % X", body, want)
	}
	if n := noteOnCount(t, out); n != 1 {
		t.Errorf("note ons = %d, want 1", n)
	}
}
