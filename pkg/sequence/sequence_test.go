package sequence

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/smfio"
)

func TestCursorBounds(t *testing.T) {
	c := NewCursor([]byte{0x34, 0x12, 0xFF}, 0)
	v, err := c.LE16()
	if err != nil || v != 0x1234 {
		t.Fatalf("LE16() = (0x%04X, %v), want 0x1234", v, err)
	}
	b, err := c.U8()
	if err != nil || b != 0xFF {
		t.Fatalf("U8() = (0x%02X, %v), want 0xFF", b, err)
	}
	if !c.AtEnd() {
		t.Error("AtEnd() = false after reading all bytes")
	}
	if _, err := c.U8(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("U8() past end error = %v, want %v", err, ErrOutOfRange)
	}
	if err := c.Seek(3); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Seek(3) error = %v, want %v", err, ErrOutOfRange)
	}
	if _, err := ReadLE24([]byte{1, 2}, 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ReadLE24() error = %v, want %v", err, ErrOutOfRange)
	}
	if v, _ := ReadLE24([]byte{0x00, 0xF0, 0x32}, 0); v != 0x32F000 {
		t.Errorf("ReadLE24() = 0x%06X, want 0x32F000", v)
	}
}

func TestLoopStack(t *testing.T) {
	s := NewLoopStack(2)
	if err := s.Push(LoopFrame{Count: 2, Target: 0x10}); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(LoopFrame{Count: 3, Target: 0x20}); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(LoopFrame{}); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("Push() on full stack error = %v, want %v", err, ErrStackOverflow)
	}
	if s.Top().Target != 0x20 {
		t.Errorf("Top().Target = 0x%X, want 0x20", s.Top().Target)
	}
	s.Top().Seen++
	f, _ := s.Pop()
	if f.Seen != 1 {
		t.Errorf("popped Seen = %d, want 1", f.Seen)
	}
	s.Pop()
	if _, err := s.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Pop() on empty stack error = %v, want %v", err, ErrStackUnderflow)
	}
	if s.Top() != nil {
		t.Error("Top() on empty stack is not nil")
	}
}

func TestCallStack(t *testing.T) {
	s := NewCallStack(1)
	if err := s.Push(0x123); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(0x456); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("Push() error = %v, want %v", err, ErrStackOverflow)
	}
	if r, err := s.Pop(); err != nil || r != 0x123 {
		t.Errorf("Pop() = (0x%X, %v), want 0x123", r, err)
	}
	if _, err := s.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Pop() error = %v, want %v", err, ErrStackUnderflow)
	}
}

func balanceInput() []TrackInfo {
	return []TrackInfo{
		{TickCount: 400, LoopTick: 0, LoopOffset: 0x10, LoopTimes: 2},
		{TickCount: 100, LoopTick: 0, LoopOffset: 0x40, LoopTimes: 2},
		{TickCount: 30, LoopTick: 20, LoopOffset: 0x80, LoopTimes: 2},
		{TickCount: 50, LoopOffset: -1},
	}
}

func TestBalanceLoops(t *testing.T) {
	tracks := balanceInput()
	n := BalanceLoops(tracks, 12)
	if n != 1 {
		t.Errorf("BalanceLoops() adjusted %d tracks, want 1", n)
	}
	want := []int{2, 8, 2, 0}
	for i, ti := range tracks {
		if ti.LoopTimes != want[i] {
			t.Errorf("track %d LoopTimes = %d, want %d", i, ti.LoopTimes, want[i])
		}
	}
}

func TestBalanceLoopsIsPure(t *testing.T) {
	a := balanceInput()
	b := balanceInput()
	BalanceLoops(a, 12)
	BalanceLoops(b, 12)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("track %d: %+v != %+v", i, a[i], b[i])
		}
	}
}

func TestBalanceLoopsTwice(t *testing.T) {
	tests := []struct {
		name   string
		tracks []TrackInfo
		first  int
		want   []int
	}{
		{"one short track", balanceInput(), 1, []int{2, 8, 2, 0}},
		{
			// the first extension rounds up past the longest track
			name: "rounding grows the longest track",
			tracks: []TrackInfo{
				{TickCount: 270, LoopOffset: -1},
				{TickCount: 100, LoopOffset: 4, LoopTimes: 2},
				{TickCount: 110, LoopOffset: 8, LoopTimes: 2},
			},
			first: 2,
			want:  []int{0, 3, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if n := BalanceLoops(tt.tracks, 12); n != tt.first {
				t.Errorf("first BalanceLoops() adjusted %d tracks, want %d", n, tt.first)
			}
			if n := BalanceLoops(tt.tracks, 12); n != 0 {
				t.Errorf("second BalanceLoops() adjusted %d tracks, want 0", n)
			}
			for i, ti := range tt.tracks {
				if ti.LoopTimes != tt.want[i] {
					t.Errorf("track %d LoopTimes = %d, want %d", i, ti.LoopTimes, tt.want[i])
				}
			}
		})
	}
}

func TestTrackInfoLength(t *testing.T) {
	ti := TrackInfo{TickCount: 300, LoopTick: 100, LoopOffset: 5, LoopTimes: 3}
	if ti.LoopTicks() != 200 {
		t.Errorf("LoopTicks() = %d, want 200", ti.LoopTicks())
	}
	if ti.Length() != 700 {
		t.Errorf("Length() = %d, want 700", ti.Length())
	}
}

func TestKindString(t *testing.T) {
	if KindLoopEnd.String() != "loop end" {
		t.Errorf("KindLoopEnd.String() = %q", KindLoopEnd.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("Kind(99).String() = %q", Kind(99).String())
	}
}

func TestContextUnknownOpcode(t *testing.T) {
	var logs bytes.Buffer
	w := smfio.NewWriter()
	w.StartTrack()
	ctx := NewContext(w, []byte{0xE9}, 0, 3, log.New(&logs))

	err := ctx.Unknown(0xE9, 0)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("Unknown() error = %v, want %v", err, ErrUnknownOpcode)
	}
	ctx.Finish()

	want := []byte{0x00, 0xB0, CCUnknown, 0x69, 0x00, 0xFF, 0x2F, 0x00}
	if body := w.Bytes()[w.TrackBase():]; !bytes.Equal(body, want) {
		t.Errorf("body = % X, want % X", body, want)
	}
	if !bytes.Contains(logs.Bytes(), []byte("unknown opcode")) {
		t.Errorf("log output %q does not mention the opcode", logs.String())
	}
}

func TestContextNilLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Default()
	log.SetDefault(log.New(&buf))
	defer log.SetDefault(prev)

	w := smfio.NewWriter()
	w.StartTrack()
	ctx := NewContext(w, []byte{0xE9}, 0, 1, nil)
	if err := ctx.Unknown(0xE9, 0); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("Unknown() error = %v, want %v", err, ErrUnknownOpcode)
	}
	if buf.Len() != 0 {
		t.Errorf("nil logger wrote %q to the default logger", buf.String())
	}
}

func TestContextOutputLimit(t *testing.T) {
	w := smfio.NewWriter()
	w.StartTrack()
	ctx := NewContext(w, nil, 0, 0, log.New(io.Discard))
	ctx.MaxOutput = 16
	if err := ctx.CheckOutput(); err != nil {
		t.Fatalf("CheckOutput() error = %v", err)
	}
	for i := 0; i < 8; i++ {
		w.ControlChange(7, 100)
	}
	if err := ctx.CheckOutput(); !errors.Is(err, ErrOutputTooLarge) {
		t.Errorf("CheckOutput() error = %v, want %v", err, ErrOutputTooLarge)
	}
}
