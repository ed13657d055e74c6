package drivers

import (
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/sequence"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/smfio"
)

// FMP driver constants
const (
	FMPVersion    = 0x02
	FMPTracks     = 20
	FMPResolution = 48
	fmpTableStart = 0x04
)

// ErrFMPVersion is returned for FMP data other than version 2 songs.
var ErrFMPVersion = errors.New("unsupported FMP version")

var fmpOps = map[byte]opInfo{
	0x80: {sequence.KindInstrument, 2}, // instrument
	0x81: {sequence.KindControl, 2},    // volume
	0x83: {sequence.KindControl, 2},    // velocity
	0x85: {sequence.KindControl, 3},    // pitch bend, raw LSB/MSB
	0x8B: {sequence.KindControl, 2},    // pan
	0x8C: {sequence.KindControl, 0},    // SysEx up to F7
	0x8E: {sequence.KindControl, 2},    // MIDI channel
	0x90: {sequence.KindControl, 3},    // MIDI controller
	0xB6: {sequence.KindTempo, 8},      // tempo
	0xFF: {sequence.KindJump, 1},       // track end or master loop
}

// decodeFMPOp returns kind and size of the command at pos. The delay byte
// that follows every command is not part of it.
func decodeFMPOp(data []byte, pos int) (sequence.Op, error) {
	if pos < 0 || pos >= len(data) {
		return sequence.Op{Pos: pos}, errors.Wrapf(sequence.ErrOutOfRange, "offset 0x%04X", pos)
	}
	op := sequence.Op{Code: data[pos], Pos: pos}
	if op.Code < 0x80 {
		op.Kind = sequence.KindNote
		op.Size = 2
		return checkOp(data, op)
	}
	info, ok := fmpOps[op.Code]
	if !ok {
		op.Kind = sequence.KindUnknown
		op.Size = 1
		return op, nil
	}
	op.Kind = info.kind
	op.Size = info.size
	if op.Code == 0x8C {
		op.Size = fmpSysExSize(data, pos)
	}
	return checkOp(data, op)
}

// fmpSysExSize returns the size of an 0x8C command including its F7.
// Without an F7 the command runs to the end of the data.
func fmpSysExSize(data []byte, pos int) int {
	for i := pos + 1; i < len(data); i++ {
		if data[i] == converter.SysExEnd {
			return i - pos + 1
		}
	}
	return len(data) - pos
}

// fmpTrackEnds reports whether the FF at pos ends a track that does not loop.
func fmpTrackEnds(data []byte, pos int) bool {
	if pos+3 >= len(data) {
		return true
	}
	return data[pos+1] == 0x01 && data[pos+2] == 0xFF
}

// scanFMPTrack measures a track. The first FF that does not end the track
// marks the loop start, the next one jumps back to it.
func scanFMPTrack(data []byte, start int, loops int) sequence.TrackInfo {
	ti := sequence.TrackInfo{LoopOffset: -1}
	pos := start
	var tick uint32

	for steps := 0; steps < maxScanSteps; steps++ {
		op, err := decodeFMPOp(data, pos)
		if err != nil || op.Kind == sequence.KindUnknown {
			break
		}
		if op.Kind == sequence.KindJump {
			if ti.LoopOffset >= 0 {
				ti.LoopTimes = loops
				break
			}
			if fmpTrackEnds(data, pos) {
				break
			}
			ti.LoopOffset = pos
			ti.LoopTick = tick
		}
		pos += op.Size
		if pos >= len(data) {
			break
		}
		tick += uint32(data[pos])
		pos++
	}
	ti.TickCount = tick
	return ti
}

// FMP converts MIDI songs of the FMP PC-98 sound driver.
type FMP struct{}

// NewFMP creates the FMP format handler.
func NewFMP() *FMP {
	return &FMP{}
}

// ID returns the format ID
func (f *FMP) ID() string {
	return converter.FormatFMP
}

// Name returns the format name
func (f *FMP) Name() string {
	return "FMP"
}

// Description returns a short description
func (f *FMP) Description() string {
	return "FMP PC-98 sound driver MIDI songs"
}

// Extensions returns the file extensions of the format
func (f *FMP) Extensions() []string {
	return []string{".opi", ".ovi", ".ozi"}
}

// Convert converts one song. Byte 0 holds the version, the 20 track
// offsets start at 0x04.
func (f *FMP) Convert(data []byte, opts converter.Options) (*converter.Result, error) {
	const tableEnd = fmpTableStart + FMPTracks*2
	if len(data) < tableEnd {
		return nil, errors.Wrapf(converter.ErrInputTooShort, "%d bytes, header needs %d", len(data), tableEnd)
	}
	if data[0] != FMPVersion {
		return nil, errors.Wrapf(ErrFMPVersion, "version byte 0x%02X", data[0])
	}
	logger := opts.Log().With("format", f.ID())

	infos := make([]sequence.TrackInfo, FMPTracks)
	starts := make([]int, FMPTracks)
	for i := range infos {
		pos := fmpTableStart + i*2
		starts[i] = int(data[pos]) | int(data[pos+1])<<8
		infos[i] = scanFMPTrack(data, starts[i], opts.LoopCount())
	}
	tpq := opts.TPQ(FMPResolution)
	if !opts.NoLoopExtension {
		if n := sequence.BalanceLoops(infos, uint32(tpq/4)); n > 0 {
			logger.Debug("extended loops", "tracks", n)
		}
	}

	w := smfio.NewWriter()
	w.WriteHeader(1, FMPTracks, tpq)
	song := converter.Song{}
	for i := 0; i < FMPTracks; i++ {
		w.StartTrack()
		tr := newFMPTrack(w, data, starts[i], i, infos[i], opts, logger)
		if err := runTrack(tr.ctx, tr.step); err != nil {
			song.Warnings = append(song.Warnings, trackWarning(i, err))
		}
	}
	song.Data = w.Bytes()
	logger.Info("converted", "tracks", FMPTracks, "bytes", len(song.Data))
	return &converter.Result{Format: f.ID(), Songs: []converter.Song{song}}, nil
}

type fmpTrack struct {
	ctx  *sequence.Context
	data []byte
	info sequence.TrackInfo
	opts converter.Options

	vel       uint8
	loopPos   int
	loopCount int
}

func newFMPTrack(w *smfio.Writer, data []byte, start, track int, info sequence.TrackInfo, opts converter.Options, logger *log.Logger) *fmpTrack {
	ctx := sequence.NewContext(w, data, start, track, logger)
	if opts.MaxOutput > 0 {
		ctx.MaxOutput = opts.MaxOutput
	}
	w.SetChannel(uint8(track))
	return &fmpTrack{
		ctx:     ctx,
		data:    data,
		info:    info,
		opts:    opts,
		vel:     0x7F,
		loopPos: -1,
	}
}

func (tr *fmpTrack) loopTimes() int {
	if tr.info.Looped() {
		return tr.info.LoopTimes
	}
	return tr.opts.LoopCount()
}

func (tr *fmpTrack) step() (bool, error) {
	ctx, w, data := tr.ctx, tr.ctx.W, tr.data
	pos := ctx.Cur.Pos()
	if pos >= len(data) {
		ctx.Warn("track runs past the end of the song data", pos)
		return true, nil
	}
	op, err := decodeFMPOp(data, pos)
	if err != nil {
		return false, err
	}
	arg := data[pos+1 : pos+op.Size]
	next := pos + op.Size

	switch op.Code {
	case 0x80:
		w.WriteEvent(0xC0, arg[0], 0)
	case 0x81:
		w.ControlChange(0x07, arg[0])
	case 0x83:
		tr.vel = arg[0]
	case 0x85:
		w.WriteEvent(0xE0, arg[0], arg[1])
	case 0x8B:
		w.ControlChange(0x0A, arg[0])
	case 0x8C:
		body := append([]byte{converter.RolandID}, arg...)
		if err := converter.ValidateSysEx(body); err != nil {
			ctx.Warn("dropped SysEx", pos, "err", err)
		} else {
			w.WriteLongEvent(converter.SysExStart, body)
		}
	case 0x8E:
		w.SetChannel(arg[0] & 0x0F)
	case 0x90:
		w.ControlChange(arg[0], arg[1])
	case 0xB6:
		v, err := sequence.ReadLE24(data, pos+3)
		if err != nil {
			return false, err
		}
		w.WriteTempo(uint32(uint64(500000) * uint64(v) / 0x32F000))
	case 0xFF:
		if tr.loopPos < 0 {
			if fmpTrackEnds(data, pos) {
				return true, nil
			}
			tr.loopPos = pos
			ctx.LoopMarker(0)
		} else {
			tr.loopCount++
			if tr.loopCount >= tr.loopTimes() {
				return true, nil
			}
			ctx.LoopMarker(tr.loopCount)
			next = tr.loopPos + 1
		}
	default:
		if op.Kind != sequence.KindNote {
			return false, ctx.Unknown(op.Code, pos)
		}
		// [note, length], a length of 0 is a rest
		if arg[0] > 0 && tr.vel > 0 {
			if err := playNote(w, op.Code, tr.vel, uint32(arg[0])); err != nil {
				return false, err
			}
		}
	}

	if next >= len(data) {
		ctx.Warn("missing delay byte at end of data", next)
		return true, nil
	}
	w.AddDelay(uint32(data[next]))
	next++
	if next >= len(data) {
		return true, nil
	}
	return false, ctx.Cur.Seek(next)
}
