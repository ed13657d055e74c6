package sequence

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/smfio"
)

// Controllers used as markers in converted files.
const (
	CCLoopMarker = 0x6F // loop iteration number
	CCUnknown    = 0x6E // opcode that stopped the track
	CCUnmapped   = 0x70 // recognised command without a MIDI equivalent
)

// DefaultMaxOutput caps the size of one converted song.
const DefaultMaxOutput = 1 << 20

// Kind classifies a decoded opcode.
type Kind int

const (
	KindNote Kind = iota
	KindRest
	KindControl
	KindInstrument
	KindTempo
	KindLoopStart
	KindLoopEnd
	KindCall
	KindReturn
	KindJump
	KindTrackEnd
	KindUnknown
)

var kindNames = [...]string{
	"note", "rest", "control", "instrument", "tempo", "loop start",
	"loop end", "call", "return", "jump", "track end", "unknown",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Op is the format-independent part of a decoded opcode.
type Op struct {
	Kind Kind
	Code byte // first byte of the command
	Pos  int  // offset of the command
	Size int  // bytes consumed including operands
}

// Context is the decode state of one track: the writer it emits into,
// the cursor over the song data and the control-flow stacks.
type Context struct {
	W     *smfio.Writer
	Cur   *Cursor
	Loops *LoopStack
	Calls *CallStack
	Log   *log.Logger

	Track     int
	MaxOutput int
}

// NewContext creates the context for one track. A nil logger discards
// all output.
func NewContext(w *smfio.Writer, data []byte, start, track int, logger *log.Logger) *Context {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Context{
		W:         w,
		Cur:       NewCursor(data, start),
		Loops:     NewLoopStack(MaxLoopDepth),
		Calls:     NewCallStack(MaxCallDepth),
		Log:       logger.With("track", track),
		Track:     track,
		MaxOutput: DefaultMaxOutput,
	}
}

// CheckOutput fails once the file has grown beyond MaxOutput.
func (c *Context) CheckOutput() error {
	if c.MaxOutput > 0 && c.W.Len() > c.MaxOutput {
		return errors.Wrapf(ErrOutputTooLarge, "%d bytes", c.W.Len())
	}
	return nil
}

// Warn logs a decode anomaly at the given offset.
func (c *Context) Warn(msg string, pos int, keyvals ...interface{}) {
	c.Log.Warn(msg, append([]interface{}{"offset", Hex(pos)}, keyvals...)...)
}

// LoopMarker writes the loop iteration controller.
func (c *Context) LoopMarker(iteration int) {
	if iteration > 0x7F {
		iteration = 0x7F
	}
	c.W.ControlChange(CCLoopMarker, uint8(iteration))
}

// Unmapped writes a marker for a recognised command that has no MIDI
// equivalent.
func (c *Context) Unmapped(code byte) {
	c.W.ControlChange(CCUnmapped, code&0x7F)
}

// Unknown reports an opcode of unknown length and writes a marker for it.
// Decoding of the track stops afterwards.
func (c *Context) Unknown(code byte, pos int) error {
	c.Warn("unknown opcode, ending track", pos, "opcode", fmt.Sprintf("0x%02X", code))
	c.W.ControlChange(CCUnknown, code&0x7F)
	return errors.Wrapf(ErrUnknownOpcode, "0x%02X at 0x%04X", code, pos)
}

// Finish ends the track: running notes are played out and the
// end-of-track event is written.
func (c *Context) Finish() {
	c.W.EndOfTrack()
}

// Abort logs a fatal decode error and closes the track with what was
// decoded so far.
func (c *Context) Abort(err error) {
	c.Log.Error("track aborted", "offset", Hex(c.Cur.Pos()), "err", err)
	c.W.FlushNotes(true)
	c.Finish()
}

// Hex formats an offset the way diagnostics print it.
func Hex(pos int) string {
	return fmt.Sprintf("0x%04X", pos)
}
