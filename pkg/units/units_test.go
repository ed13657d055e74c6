package units

import (
	"math"
	"testing"
)

func TestDBToMIDI(t *testing.T) {
	tests := []struct {
		db       float64
		expected uint8
	}{
		{0, 127},
		{3, 127},
		{-6, 90},
		{-40, 13},
		{Silence, 0},
		{math.Inf(-1), 0},
	}

	for _, tt := range tests {
		if got := DBToMIDI(tt.db); got != tt.expected {
			t.Errorf("DBToMIDI(%v) = %d, want %d", tt.db, got, tt.expected)
		}
	}
}

func TestDBToMIDIMonotonic(t *testing.T) {
	prev := DBToMIDI(-200)
	for db := -200.0; db <= 10; db += 0.25 {
		got := DBToMIDI(db)
		if got < prev {
			t.Fatalf("DBToMIDI(%v) = %d, below previous %d", db, got, prev)
		}
		prev = got
	}
}

func TestVolumeConversions(t *testing.T) {
	if got := OPNToDB(8); got != -6 {
		t.Errorf("OPNToDB(8) = %v, want -6", got)
	}
	if got := LinearToDB(255, 255); got != 0 {
		t.Errorf("LinearToDB(255, 255) = %v, want 0", got)
	}
	if got := DBToMIDI(LinearToDB(127.5, 255)); got != 90 {
		t.Errorf("half volume = %d, want 90", got)
	}
	if got := LinearToDB(0, 255); got != Silence {
		t.Errorf("LinearToDB(0, 255) = %v, want Silence", got)
	}
}

func TestPan(t *testing.T) {
	tests := []struct {
		name     string
		got      uint8
		expected uint8
	}{
		{"bits none", PanBitsToMIDI(0), 0x3F},
		{"bits right", PanBitsToMIDI(1), 0x7F},
		{"bits left", PanBitsToMIDI(2), 0x00},
		{"bits both", PanBitsToMIDI(7), 0x40},
	}
	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s = 0x%02X, want 0x%02X", tt.name, tt.got, tt.expected)
		}
	}

	if pan, side := StereoMaskToPan(0x40); pan != 0x00 || !side {
		t.Errorf("StereoMaskToPan(0x40) = (0x%02X, %v)", pan, side)
	}
	if pan, side := StereoMaskToPan(0xC0); pan != 0x40 || side {
		t.Errorf("StereoMaskToPan(0xC0) = (0x%02X, %v)", pan, side)
	}
}

func TestTempo(t *testing.T) {
	if got := BPMToTempo(120); got != 500000 {
		t.Errorf("BPMToTempo(120) = %d, want 500000", got)
	}
	if got := FrameTempo(24, 60); got != 400000 {
		t.Errorf("FrameTempo(24, 60) = %d, want 400000", got)
	}
}

func TestGSChecksum(t *testing.T) {
	// GS reset: address 40 00 7F, data 00
	if got := GSChecksum([]byte{0x40, 0x00, 0x7F, 0x00}); got != 0x41 {
		t.Errorf("GSChecksum() = 0x%02X, want 0x41", got)
	}
}

func TestFitPitchBendRange(t *testing.T) {
	tests := []struct {
		cur      uint8
		bend     int16
		expected uint8
		changed  bool
	}{
		{0, 0x0200, 16, true},
		{2, 0x0200, 2, false},
		{2, -0x0200, 2, false},
		{2, 0x0300, 8, true},
		{0, 0x1400, 24, true},
		{16, 0x0001, 16, false},
	}

	for _, tt := range tests {
		got, changed := FitPitchBendRange(tt.cur, tt.bend)
		if got != tt.expected || changed != tt.changed {
			t.Errorf("FitPitchBendRange(%d, %d) = (%d, %v), want (%d, %v)",
				tt.cur, tt.bend, got, changed, tt.expected, tt.changed)
		}
	}
}

func TestPitchBendValue(t *testing.T) {
	if got := PitchBendValue(0x100, 2); got != 0x3000 {
		t.Errorf("PitchBendValue(0x100, 2) = 0x%04X, want 0x3000", got)
	}
	if got := PitchBendValue(-0x200, 2); got != 0x0000 {
		t.Errorf("PitchBendValue(-0x200, 2) = 0x%04X, want 0x0000", got)
	}
	if got := PitchBendValue(0, 0); got != 0x2000 {
		t.Errorf("PitchBendValue(0, 0) = 0x%04X, want 0x2000", got)
	}
}
