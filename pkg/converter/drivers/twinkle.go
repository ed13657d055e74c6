package drivers

import (
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/sequence"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/smfio"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/units"
)

// Twinkle Soft driver constants
const (
	TwinkleTracks     = 10 // 3 SSG + 6 FM + rhythm
	TwinkleResolution = 48
	twinkleSSGTracks  = 3
	twinkleSSGShift   = 24
)

type opInfo struct {
	kind sequence.Kind
	size int
}

var twinkleOps = map[byte]opInfo{
	0x82: {sequence.KindInstrument, 2}, // instrument
	0x85: {sequence.KindControl, 2},    // velocity
	0x8A: {sequence.KindTempo, 2},      // tempo in BPM
	0x9B: {sequence.KindLoopEnd, 2},    // loop end, repeat count
	0x9C: {sequence.KindLoopStart, 1},  // loop start
	0x9D: {sequence.KindControl, 2},    // detune
	0x9F: {sequence.KindControl, 2},    // pan bits
	0xA4: {sequence.KindControl, 3},    // pitch bend
	0xA5: {sequence.KindControl, 2},    // unknown, has a parameter
	0xDD: {sequence.KindControl, 4},    // SysEx data 1
	0xDE: {sequence.KindControl, 4},    // SysEx data 2 + send
	0xDF: {sequence.KindControl, 4},    // SysEx device + model
	0xE6: {sequence.KindControl, 3},    // MIDI channel
	0xE7: {sequence.KindControl, 4},    // unknown, with delay
	0xEB: {sequence.KindControl, 4},    // MIDI controller
	0xEC: {sequence.KindInstrument, 3}, // MIDI instrument
	0xEE: {sequence.KindControl, 4},    // pitch bend with delay
	0xFE: {sequence.KindTrackEnd, 1},   // track end
}

// decodeTwinkleOp returns kind and size of the command at pos.
func decodeTwinkleOp(data []byte, pos int) (sequence.Op, error) {
	if pos < 0 || pos >= len(data) {
		return sequence.Op{Pos: pos}, errors.Wrapf(sequence.ErrOutOfRange, "offset 0x%04X", pos)
	}
	op := sequence.Op{Code: data[pos], Pos: pos}
	if op.Code < 0x80 {
		op.Kind = sequence.KindNote
		op.Size = 3
		return checkOp(data, op)
	}
	info, ok := twinkleOps[op.Code]
	if !ok {
		op.Kind = sequence.KindUnknown
		op.Size = 1
		return op, nil
	}
	op.Kind = info.kind
	op.Size = info.size
	return checkOp(data, op)
}

// twinkleDelay returns the ticks a command waits after it executes.
func twinkleDelay(data []byte, op sequence.Op) uint32 {
	switch op.Code {
	case 0xE6, 0xE7, 0xEB, 0xEC, 0xEE:
		return uint32(data[op.Pos+1])
	}
	if op.Kind == sequence.KindNote {
		d, _ := twinkleNoteTiming(data[op.Pos+1], data[op.Pos+2])
		return uint32(d)
	}
	return 0
}

// twinkleNoteTiming applies the fix-up for notes without any timing.
func twinkleNoteTiming(delay, length uint8) (uint8, uint8) {
	if delay == 0 && length == 0 {
		return 48, 48
	}
	return delay, length
}

// isInfiniteLoop reports whether a loop end count means "forever".
func isInfiniteLoop(count uint8) bool {
	return count == 0 || count >= 0xF0
}

// scanTwinkleTrack walks a track without emitting anything and returns its
// length and the position of the master loop, which is the first loop with
// an infinite repeat count.
func scanTwinkleTrack(data []byte, start int, loops int) sequence.TrackInfo {
	ti := sequence.TrackInfo{LoopOffset: -1}
	stack := sequence.NewLoopStack(sequence.MaxLoopDepth)
	pos := start
	var tick uint32

	for steps := 0; steps < maxScanSteps; steps++ {
		op, err := decodeTwinkleOp(data, pos)
		if err != nil {
			break
		}
		tick += twinkleDelay(data, op)

		switch op.Kind {
		case sequence.KindLoopStart:
			if stack.Push(sequence.LoopFrame{Target: pos + 1, StartTick: tick}) != nil {
				ti.TickCount = tick
				return ti
			}
		case sequence.KindLoopEnd:
			f := stack.Top()
			if f == nil {
				ti.TickCount = tick
				return ti
			}
			count := data[pos+1]
			if isInfiniteLoop(count) {
				ti.TickCount = tick
				ti.LoopTick = f.StartTick
				ti.LoopOffset = f.Target - 1
				ti.LoopTimes = loops
				return ti
			}
			f.Seen++
			if f.Seen < int(count) {
				pos = f.Target
				continue
			}
			stack.Pop()
		case sequence.KindTrackEnd, sequence.KindUnknown:
			ti.TickCount = tick
			return ti
		}
		pos += op.Size
	}
	ti.TickCount = tick
	return ti
}

// Twinkle converts songs of the Twinkle Soft PC-98 sound driver.
type Twinkle struct{}

// NewTwinkle creates the Twinkle Soft format handler.
func NewTwinkle() *Twinkle {
	return &Twinkle{}
}

// ID returns the format ID
func (t *Twinkle) ID() string {
	return converter.FormatTwinkle
}

// Name returns the format name
func (t *Twinkle) Name() string {
	return "Twinkle Soft"
}

// Description returns a short description
func (t *Twinkle) Description() string {
	return "Twinkle Soft PC-98 sound driver songs (MF2)"
}

// Extensions returns the file extensions of the format
func (t *Twinkle) Extensions() []string {
	return []string{".mf2", ".tw"}
}

// Convert converts one song. The track table consists of LE16 start
// offsets, one per track.
func (t *Twinkle) Convert(data []byte, opts converter.Options) (*converter.Result, error) {
	trkCnt := opts.Tracks
	if trkCnt <= 0 {
		trkCnt = TwinkleTracks
	}
	if len(data) < trkCnt*2 {
		return nil, errors.Wrapf(converter.ErrInputTooShort, "%d bytes, track table needs %d", len(data), trkCnt*2)
	}
	logger := opts.Log().With("format", t.ID())

	infos := make([]sequence.TrackInfo, trkCnt)
	starts := make([]int, trkCnt)
	for i := range infos {
		starts[i] = int(data[i*2]) | int(data[i*2+1])<<8
		infos[i] = scanTwinkleTrack(data, starts[i], opts.LoopCount())
	}
	if !opts.NoLoopExtension {
		tpq := opts.TPQ(TwinkleResolution)
		if n := sequence.BalanceLoops(infos, uint32(tpq/4)); n > 0 {
			logger.Debug("extended loops", "tracks", n)
		}
	}

	w := smfio.NewWriter()
	w.WriteHeader(1, uint16(trkCnt), opts.TPQ(TwinkleResolution))
	song := converter.Song{}
	for i := 0; i < trkCnt; i++ {
		w.StartTrack()
		tr := newTwinkleTrack(w, data, starts[i], i, infos[i], opts, logger)
		if err := runTrack(tr.ctx, tr.step); err != nil {
			song.Warnings = append(song.Warnings, trackWarning(i, err))
		}
	}
	song.Data = w.Bytes()
	logger.Info("converted", "tracks", trkCnt, "bytes", len(song.Data))
	return &converter.Result{Format: t.ID(), Songs: []converter.Song{song}}, nil
}

type twinkleTrack struct {
	ctx  *sequence.Context
	data []byte
	info sequence.TrackInfo
	opts converter.Options

	raw       bool // MIDI channel mode: no transposition or volume mapping
	transpose int
	vel       uint8
	pbRange   uint8
	sysHdr    [2]byte
	sysData   [4]byte
}

func newTwinkleTrack(w *smfio.Writer, data []byte, start, track int, info sequence.TrackInfo, opts converter.Options, logger *log.Logger) *twinkleTrack {
	ctx := sequence.NewContext(w, data, start, track, logger)
	if opts.MaxOutput > 0 {
		ctx.MaxOutput = opts.MaxOutput
	}
	tr := &twinkleTrack{
		ctx:  ctx,
		data: data,
		info: info,
		opts: opts,
		vel:  0x7F,
	}
	if track < twinkleSSGTracks {
		tr.transpose = twinkleSSGShift
	}
	w.SetChannel(uint8(track))
	return tr
}

func (tr *twinkleTrack) loopTimes() int {
	if tr.info.Looped() {
		return tr.info.LoopTimes
	}
	return tr.opts.LoopCount()
}

func (tr *twinkleTrack) step() (bool, error) {
	ctx, w, data := tr.ctx, tr.ctx.W, tr.data
	pos := ctx.Cur.Pos()
	if pos >= len(data) {
		ctx.Warn("track runs past the end of the song data", pos)
		return true, nil
	}
	op, err := decodeTwinkleOp(data, pos)
	if err != nil {
		return false, err
	}
	arg := data[pos+1 : pos+op.Size]
	next := pos + op.Size

	switch {
	case op.Kind == sequence.KindNote:
		if err := tr.note(op.Code, arg[0], arg[1]); err != nil {
			return false, err
		}
		return tr.advance(next)
	case op.Kind == sequence.KindUnknown:
		return false, ctx.Unknown(op.Code, pos)
	}

	switch op.Code {
	case 0x82:
		w.WriteEvent(0xC0, arg[0], 0)
	case 0x85:
		// velocity 0 makes the driver skip notes
		if tr.opts.FixVolume && !tr.raw {
			tr.vel = units.DBToMIDI(units.OPNToDB(arg[0] ^ 0x7F))
		} else {
			tr.vel = arg[0]
		}
	case 0x8A:
		w.WriteTempo(units.BPMToTempo(float64(arg[0])))
	case 0x9B:
		f, err := ctx.Loops.Pop()
		if err != nil {
			ctx.Warn("loop end without loop start", pos)
			return true, nil
		}
		f.Seen++
		count := int(arg[0])
		infinite := isInfiniteLoop(arg[0])
		if infinite {
			count = tr.loopTimes()
		}
		if f.Seen < count {
			if infinite {
				ctx.LoopMarker(f.Seen)
			}
			next = f.Target
			if err := ctx.Loops.Push(f); err != nil {
				return false, err
			}
		}
	case 0x9C:
		if pos == tr.info.LoopOffset {
			ctx.LoopMarker(0)
		}
		if err := ctx.Loops.Push(sequence.LoopFrame{Target: next}); err != nil {
			return false, err
		}
	case 0x9D:
		detune(w, int8(arg[0]), 8)
	case 0x9F:
		w.ControlChange(0x0A, units.PanBitsToMIDI(arg[0]))
	case 0xA4:
		pitchBend(w, &tr.pbRange, int16(uint16(arg[0])|uint16(arg[1])<<8))
	case 0xA5:
		ctx.Log.Debug("ignored unknown command", "offset", sequence.Hex(pos), "opcode", "0xA5")
		ctx.Unmapped(op.Code)
		w.ControlChange(0x06, arg[0])
	case 0xDD:
		tr.sysData[0], tr.sysData[1] = arg[1], arg[2]
	case 0xDE:
		tr.sysData[2], tr.sysData[3] = arg[1], arg[2]
		w.WriteLongEvent(converter.SysExStart, converter.RolandDataSet(tr.sysHdr[0], tr.sysHdr[1], tr.sysData[:]))
	case 0xDF:
		tr.sysHdr[0], tr.sysHdr[1] = arg[1], arg[2]
	case 0xE6:
		w.SetChannel(arg[1] & 0x0F)
		tr.raw = true
		tr.transpose = 0
		tr.pbRange = rawPitchBend
	case 0xE7:
		ctx.Log.Debug("ignored unknown command", "offset", sequence.Hex(pos), "opcode", "0xE7")
		w.ControlChange(0x03, arg[1])
	case 0xEB:
		w.ControlChange(arg[1], arg[2])
	case 0xEC:
		w.WriteEvent(0xC0, arg[1], 0)
	case 0xEE:
		pitchBend(w, &tr.pbRange, int16(uint16(arg[1])|uint16(arg[2])<<8))
	case 0xFE:
		return true, nil
	}

	w.AddDelay(twinkleDelay(data, op))
	return tr.advance(next)
}

func (tr *twinkleTrack) advance(next int) (bool, error) {
	if next >= len(tr.data) {
		tr.ctx.Warn("track runs past the end of the song data", next)
		return true, nil
	}
	return false, tr.ctx.Cur.Seek(next)
}

// note plays [note, delay, length]. A length of 0 is a rest.
func (tr *twinkleTrack) note(code, delay, length uint8) error {
	w := tr.ctx.W
	delay, length = twinkleNoteTiming(delay, length)
	if code == 0 {
		code = 0x30
	}
	note := int(code)
	if !tr.raw {
		note += tr.transpose
	}

	if length > 0 && tr.vel > 0 && note <= 0x7F {
		if err := playNote(w, uint8(note), tr.vel, uint32(length)); err != nil {
			return err
		}
	}
	w.AddDelay(uint32(delay))
	return nil
}
