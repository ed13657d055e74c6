package smfio

// Meta event types used by the converters.
const (
	MetaText          = 0x01
	MetaTrackName     = 0x03
	MetaMarker        = 0x06
	MetaChannelPrefix = 0x20
	MetaPort          = 0x21
	MetaEndOfTrack    = 0x2F
	MetaTempo         = 0x51
)

// TrackState is the emission state of the track being written.
type TrackState struct {
	Base    int    // buffer offset right after the MTrk length field
	Delay   uint32 // ticks not yet written as a delta-time
	Channel uint8  // MIDI channel ORed into channel-voice events
}

// Writer builds a Standard MIDI File in memory.
//
// Every event write first drains expired running notes, then writes the
// pending delay as the event's delta-time and resets it to zero.
type Writer struct {
	buf    *Buffer
	trk    TrackState
	notes  *NoteTracker
	tracks int

	// RunningStatus omits a channel status byte that repeats the previous one.
	RunningStatus bool
	status        byte
}

// NewWriter creates a Writer with an empty buffer and a tracker of
// MaxRunningNotes entries.
func NewWriter() *Writer {
	return &Writer{
		buf:   NewBuffer(growStep),
		notes: NewNoteTracker(MaxRunningNotes),
	}
}

// Notes returns the running-note tracker of the current track.
func (w *Writer) Notes() *NoteTracker {
	return w.notes
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Bytes returns the file content written so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// TrackCount returns the number of tracks started so far.
func (w *Writer) TrackCount() int {
	return w.tracks
}

// WriteHeader writes the MThd chunk.
func (w *Writer) WriteHeader(format, tracks, ticksPerQuarter uint16) {
	w.buf.Write([]byte("MThd"))
	w.buf.WriteBE32(6)
	w.buf.WriteBE16(format)
	w.buf.WriteBE16(tracks)
	w.buf.WriteBE16(ticksPerQuarter)
}

// StartTrack writes an MTrk chunk header with a zero length placeholder
// and resets the track state. Running notes of a previous track are dropped.
func (w *Writer) StartTrack() {
	w.buf.Write([]byte("MTrk"))
	w.buf.WriteBE32(0)
	w.trk = TrackState{Base: w.buf.Len()}
	w.notes.Reset()
	w.status = 0
	w.tracks++
}

// EndTrack patches the length of the current track. The caller must have
// written the end-of-track meta event.
func (w *Writer) EndTrack() {
	w.buf.PutBE32At(w.trk.Base-4, uint32(w.buf.Len()-w.trk.Base))
}

// EndOfTrack plays all running notes to their end, writes FF 2F 00 and
// patches the track length.
func (w *Writer) EndOfTrack() {
	w.FlushNotes(false)
	w.WriteMetaEvent(MetaEndOfTrack, nil)
	w.EndTrack()
}

// TrackBase returns the offset right after the current MTrk length field.
func (w *Writer) TrackBase() int {
	return w.trk.Base
}

// AddDelay adds ticks to the pending delay.
func (w *Writer) AddDelay(ticks uint32) {
	w.trk.Delay += ticks
}

// Delay returns the pending delay.
func (w *Writer) Delay() uint32 {
	return w.trk.Delay
}

// SetDelay replaces the pending delay.
func (w *Writer) SetDelay(ticks uint32) {
	w.trk.Delay = ticks
}

// SetChannel selects the MIDI channel for subsequent channel-voice events.
func (w *Writer) SetChannel(ch uint8) {
	w.trk.Channel = ch & 0x0F
}

// Channel returns the current MIDI channel.
func (w *Writer) Channel() uint8 {
	return w.trk.Channel
}

// FlushDelay drains expired notes and writes the pending delay.
func (w *Writer) FlushDelay() {
	w.CheckNotes()
	w.buf.WriteVarLen(w.trk.Delay)
	w.notes.advance(w.trk.Delay)
	w.trk.Delay = 0
}

// WriteEvent writes a channel-voice event on the current channel.
// Only the top nibble of evt is used; values outside 0x80-0xE0 are ignored.
func (w *Writer) WriteEvent(evt, val1, val2 uint8) {
	var data []byte
	switch evt & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		data = []byte{val1 & 0x7F, val2 & 0x7F}
	case 0xC0, 0xD0:
		data = []byte{val1 & 0x7F}
	default:
		return
	}
	w.FlushDelay()
	w.writeStatus(evt&0xF0 | w.trk.Channel)
	w.buf.Write(data)
}

// WriteMetaEvent writes FF <typ> <len> <data>.
func (w *Writer) WriteMetaEvent(typ uint8, data []byte) {
	w.FlushDelay()
	w.buf.EnsureCapacity(2 + 5 + len(data))
	w.buf.WriteByte(0xFF)
	w.buf.WriteByte(typ)
	w.buf.WriteVarLen(uint32(len(data)))
	w.buf.Write(data)
	w.status = 0
}

// WriteLongEvent writes <status> <len> <data>, as used for SysEx (F0/F7).
// The length does not include the status byte.
func (w *Writer) WriteLongEvent(status uint8, data []byte) {
	w.FlushDelay()
	w.buf.EnsureCapacity(1 + 5 + len(data))
	w.buf.WriteByte(status)
	w.buf.WriteVarLen(uint32(len(data)))
	w.buf.Write(data)
	w.status = 0
}

// WriteTempo writes a tempo meta event in microseconds per quarter note.
func (w *Writer) WriteTempo(usPerQuarter uint32) {
	w.WriteMetaEvent(MetaTempo, []byte{byte(usPerQuarter >> 16), byte(usPerQuarter >> 8), byte(usPerQuarter)})
}

// NoteOn writes a Note On on the current channel and registers the note
// to end after length ticks (Sustain keeps it on until NoteOff). Nothing is
// written when no slot is free after expired notes were released.
func (w *Writer) NoteOn(note, vel uint8, length uint32) error {
	w.CheckNotes()
	if w.notes.Full() {
		return ErrTooManyNotes
	}
	w.WriteEvent(0x90, note, vel)
	_, err := w.notes.Add(w.trk.Channel, note&0x7F, 0x00, length)
	return err
}

// NoteOff releases a note on the current channel right now, writing an
// explicit Note Off and dropping it from the running notes.
func (w *Writer) NoteOff(note uint8) {
	n, ok := w.notes.remove(w.trk.Channel, note&0x7F)
	if !ok {
		n = RunningNote{Channel: w.trk.Channel, Note: note & 0x7F}
	}
	w.FlushDelay()
	w.writeNoteOff(n)
}

// ControlChange writes a Control Change on the current channel.
func (w *Writer) ControlChange(ctrl, value uint8) {
	w.WriteEvent(0xB0, ctrl, value)
}

// PitchBend writes a 14-bit pitch bend value (0x2000 is centre).
func (w *Writer) PitchBend(value uint16) {
	if value > 0x3FFF {
		value = 0x3FFF
	}
	w.WriteEvent(0xE0, uint8(value&0x7F), uint8(value>>7))
}

func (w *Writer) writeStatus(st byte) {
	if w.RunningStatus && st == w.status {
		return
	}
	w.buf.WriteByte(st)
	w.status = st
}
