package smfio

import (
	"errors"
	"math"
)

// MaxRunningNotes is the default capacity of a NoteTracker.
const MaxRunningNotes = 32

// Sustain marks a running note that never expires on its own.
// It stays on until released with Writer.NoteOff or cut at track end.
const Sustain = math.MaxUint32

// VelOffNoteOn as a note-off velocity selects "Note On, velocity 0"
// instead of an explicit Note Off event.
const VelOffNoteOn = 0x80

// ErrTooManyNotes is returned when the tracker is full.
var ErrTooManyNotes = errors.New("too many running notes")

// RunningNote is a sounding note whose Note Off has not been written yet.
type RunningNote struct {
	Channel   uint8
	Note      uint8
	VelOff    uint8  // note-off velocity, VelOffNoteOn for 9x nn 00
	Remaining uint32 // ticks until the note ends
}

// NoteTracker holds the set of running notes of the current track.
type NoteTracker struct {
	notes []RunningNote
	max   int
}

// NewNoteTracker creates a tracker holding at most max notes.
func NewNoteTracker(max int) *NoteTracker {
	if max <= 0 {
		max = MaxRunningNotes
	}
	return &NoteTracker{notes: make([]RunningNote, 0, max), max: max}
}

// Len returns the number of running notes.
func (t *NoteTracker) Len() int {
	return len(t.notes)
}

// Notes returns a copy of the running notes in insertion order.
func (t *NoteTracker) Notes() []RunningNote {
	out := make([]RunningNote, len(t.notes))
	copy(out, t.notes)
	return out
}

// Add registers a note that ends after length ticks.
func (t *NoteTracker) Add(ch, note, velOff uint8, length uint32) (*RunningNote, error) {
	if len(t.notes) >= t.max {
		return nil, ErrTooManyNotes
	}
	t.notes = append(t.notes, RunningNote{Channel: ch, Note: note, VelOff: velOff, Remaining: length})
	return &t.notes[len(t.notes)-1], nil
}

// Find returns the running note with the given channel and pitch, or nil.
// The pointer is valid until the tracker is modified.
func (t *NoteTracker) Find(ch, note uint8) *RunningNote {
	for i := range t.notes {
		if t.notes[i].Channel == ch && t.notes[i].Note == note {
			return &t.notes[i]
		}
	}
	return nil
}

// Extend resets the remaining ticks of a running note.
// It reports whether the note was found.
func (t *NoteTracker) Extend(ch, note uint8, length uint32) bool {
	n := t.Find(ch, note)
	if n == nil {
		return false
	}
	n.Remaining = length
	return true
}

// MaxRemaining returns the longest remaining time of all notes that expire on their own.
func (t *NoteTracker) MaxRemaining() uint32 {
	var longest uint32
	for _, n := range t.notes {
		if n.Remaining != Sustain && n.Remaining > longest {
			longest = n.Remaining
		}
	}
	return longest
}

// Full reports whether no further note can be added.
func (t *NoteTracker) Full() bool {
	return len(t.notes) >= t.max
}

// Reset drops all notes without writing anything.
func (t *NoteTracker) Reset() {
	t.notes = t.notes[:0]
}

func (t *NoteTracker) remove(ch, note uint8) (RunningNote, bool) {
	for i, n := range t.notes {
		if n.Channel == ch && n.Note == note {
			t.removeAt(i)
			return n, true
		}
	}
	return RunningNote{}, false
}

func (t *NoteTracker) removeAt(i int) {
	t.notes = append(t.notes[:i], t.notes[i+1:]...)
}

func (t *NoteTracker) advance(ticks uint32) {
	if ticks == 0 {
		return
	}
	for i := range t.notes {
		if t.notes[i].Remaining == Sustain {
			continue
		}
		if t.notes[i].Remaining < ticks {
			t.notes[i].Remaining = 0
		} else {
			t.notes[i].Remaining -= ticks
		}
	}
}

// CheckNotes writes Note Off events for every running note that expires
// within the pending delay. The delay is split so that each Note Off lands
// on its own tick; notes ending on the same tick share one delta-time.
// It returns the number of expired notes.
func (w *Writer) CheckNotes() int {
	t := w.notes
	expired := 0
	for len(t.notes) > 0 {
		step := uint64(w.trk.Delay) + 1
		for _, n := range t.notes {
			if n.Remaining != Sustain && uint64(n.Remaining) < step {
				step = uint64(n.Remaining)
			}
		}
		if step > uint64(w.trk.Delay) {
			break
		}
		dly := uint32(step)
		t.advance(dly)
		w.trk.Delay -= dly

		for i := 0; i < len(t.notes); {
			n := t.notes[i]
			if n.Remaining > 0 {
				i++
				continue
			}
			w.buf.WriteVarLen(dly)
			dly = 0
			w.writeNoteOff(n)
			t.removeAt(i)
			expired++
		}
	}
	return expired
}

// FlushNotes ends all running notes. With cut set, notes still playing
// after the pending delay are cut there; otherwise the delay is extended
// to the end of the longest note. Sustained notes always end at the
// pending delay.
func (w *Writer) FlushNotes(cut bool) {
	t := w.notes
	if longest := t.MaxRemaining(); !cut && longest > w.trk.Delay {
		w.trk.Delay = longest
	}
	for i := range t.notes {
		if n := &t.notes[i]; n.Remaining == Sustain || n.Remaining > w.trk.Delay {
			n.Remaining = w.trk.Delay
		}
	}
	w.CheckNotes()
}

func (w *Writer) writeNoteOff(n RunningNote) {
	if n.VelOff < VelOffNoteOn {
		w.writeStatus(0x80 | n.Channel&0x0F)
		w.buf.Write([]byte{n.Note, n.VelOff})
		return
	}
	w.writeStatus(0x90 | n.Channel&0x0F)
	w.buf.Write([]byte{n.Note, 0x00})
}
