package drivers

import (
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/sequence"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/smfio"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/units"
)

// GRC driver constants
const (
	GRCResolution   = 24
	GRCHeaderTracks = 9 // 6 FM + 3 PSG, only FM is converted
	GRCMidiTracks   = 6
	grcMinLoopTicks = 0x20
	grcFrameRate    = 60
	grcMaxSongData  = 0x800000
)

var (
	// ErrSongTable is returned when the song list address is unusable.
	ErrSongTable = errors.New("invalid song table")
	// ErrEmptySong is returned for songs without any active track.
	ErrEmptySong = errors.New("song has no active tracks")
)

var grcVolumes = [16]uint8{
	0x7F, 0x1F, 0x1E, 0x1D, 0x1C, 0x1B, 0x1A, 0x18,
	0x16, 0x14, 0x12, 0x10, 0x0E, 0x0C, 0x0B, 0x00,
}

// grcScale maps the low nibble of a note command to a semitone; 0xFF is a rest.
var grcScale = [16]uint8{
	0, 2, 4, 5, 7, 9, 11, 0xFF,
	1, 3, 4, 6, 8, 10, 11, 0xFF,
}

// grcModulation holds the SMPS modulation (wait, speed, delta, steps) of
// each GRC modulation preset.
var grcModulation = [0x22][4]uint8{
	{0x00, 0x00, 0x00, 0x00}, {0x08, 0x01, 0x05, 0x05}, {0x08, 0x01, 0x04, 0x07}, {0x08, 0x01, 0x03, 0x07},
	{0x00, 0x01, 0x0A, 0x07}, {0x0C, 0x01, 0x10, 0x05}, {0x0C, 0x01, 0x20, 0x05}, {0x00, 0x01, 0xEC, 0xFF},
	{0x00, 0x01, 0xE2, 0xFF}, {0x00, 0x01, 0xD8, 0xFF}, {0x00, 0x01, 0xCE, 0xFF}, {0x00, 0x01, 0x34, 0xFF},
	{0x00, 0x01, 0xD8, 0xFF}, {0x06, 0x01, 0x08, 0x03}, {0x00, 0x01, 0xFE, 0xFF}, {0x0C, 0x01, 0x06, 0x06},
	{0x00, 0x01, 0x1A, 0xFF}, {0x05, 0x02, 0x01, 0x05}, {0x05, 0x02, 0xFF, 0x05}, {0x06, 0x01, 0x03, 0x03},
	{0x00, 0x01, 0x3C, 0xFF}, {0x00, 0x01, 0x46, 0xFF}, {0x00, 0x01, 0x50, 0xFF}, {0x00, 0x01, 0x64, 0xFF},
	{0x00, 0x01, 0x96, 0xFF}, {0x0C, 0x01, 0x02, 0xFF}, {0x00, 0x01, 0xF8, 0xFF}, {0x00, 0x01, 0x0A, 0x06},
	{0x00, 0x01, 0x07, 0x09}, {0x0C, 0x01, 0x06, 0x06}, {0x00, 0x01, 0xFF, 0xFF}, {0x00, 0x01, 0xFE, 0xFF},
	{0x00, 0x01, 0x05, 0xFF}, {0x00, 0x01, 0x07, 0xFF},
}

// smpsModulation converts a modulation preset into the controller values
// 0x10-0x13 and the modulation depth for CC 1.
func smpsModulation(preset [4]uint8) [5]uint8 {
	var m [5]uint8
	copy(m[:4], preset[:])
	if preset[2] >= 0x40 && preset[2] < 0xC0 {
		m[1] |= 0x20
	}
	m[2] &= 0x7F
	if preset[3] >= 0x40 && preset[3] < 0xC0 {
		m[1] |= 0x40
	}
	m[3] &= 0x7F

	delta := int(int8(preset[2])) * int(preset[3])
	if delta < 0 {
		delta = -delta
	}
	delta *= 2
	switch {
	case delta < 0x08:
		m[4] = 0x08
	case delta > 0x7F:
		m[4] = 0x7F
	default:
		m[4] = uint8(delta)
	}
	return m
}

// grcVolume converts a GRC total level to MIDI volume. One-sided panning
// costs 4 steps; without volume boost the first 8 steps are free.
func grcVolume(tl uint8, side, boost bool) uint8 {
	v := int(tl)
	if side {
		v += 4
	}
	if !boost {
		if v >= 8 {
			v -= 8
		} else {
			v = 0
		}
	}
	return units.DBToMIDI(units.AttenuationToDB(float64(v), 4.0/3.0))
}

// decodeGRCOp returns kind and size of the command at pos.
func decodeGRCOp(data []byte, pos int) (sequence.Op, error) {
	if pos < 0 || pos >= len(data) {
		return sequence.Op{Pos: pos}, errors.Wrapf(sequence.ErrOutOfRange, "offset 0x%04X", pos)
	}
	code := data[pos]
	op := sequence.Op{Code: code, Pos: pos, Size: 1}
	switch {
	case code < 0x80:
		op.Kind = sequence.KindNote
		if code&0x0F == 0x07 || code&0x0F == 0x0F {
			op.Kind = sequence.KindRest
		}
		if code&0x10 != 0 {
			op.Size = 2
		}
	case code < 0xA0:
		op.Kind = sequence.KindControl // volume 8x, octave 9x
	case code == 0xEF, code == 0xF1, code == 0xF2, code == 0xF3,
		code == 0xF5, code == 0xF6, code == 0xF7, code == 0xFB, code == 0xFD:
		op.Kind = sequence.KindControl
		op.Size = 2
	case code == 0xF0, code == 0xF4, code == 0xFE:
		op.Kind = sequence.KindControl
	case code == 0xFC:
		op.Kind = sequence.KindInstrument
		op.Size = 2
	case code == 0xF8:
		op.Kind = sequence.KindReturn
	case code == 0xF9:
		op.Kind = sequence.KindCall
		op.Size = 3
	case code == 0xFA:
		op.Kind = sequence.KindJump
		op.Size = 3
	case code == 0xFF:
		op.Kind = sequence.KindTrackEnd
	default:
		op.Kind = sequence.KindUnknown
		return op, nil
	}
	return checkOp(data, op)
}

// grcTarget returns the destination of a relative call or jump at pos.
func grcTarget(data []byte, pos int) int {
	rel := int(data[pos+1]) | int(data[pos+2])<<8
	return (pos + rel) & 0xFFFF
}

// grcTrackInfo is a song header entry plus its pre-pass results.
type grcTrackInfo struct {
	sequence.TrackInfo
	Active   bool
	Start    int
	MaxLevel uint8 // smallest total level (loudest volume) used
}

// VolumeBoost reports whether the track plays louder than the -8 TL the
// conversion normally assumes.
func (ti grcTrackInfo) VolumeBoost() bool {
	return ti.MaxLevel < 0x08
}

// scanGRCTrack walks a track, marking every byte it reads. A jump to a
// byte that was read before is the master loop.
func scanGRCTrack(data []byte, ti *grcTrackInfo, loops int) {
	ti.LoopOffset = -1
	ti.MaxLevel = 0x7F
	if !ti.Active {
		return
	}

	visited := make([]bool, len(data))
	tickAt := make([]uint32, len(data))
	calls := sequence.NewCallStack(sequence.MaxCallDepth)
	pos := ti.Start
	var tick uint32
	var defLen uint8

	for steps := 0; steps < maxScanSteps; steps++ {
		op, err := decodeGRCOp(data, pos)
		if err != nil || op.Kind == sequence.KindUnknown || op.Kind == sequence.KindTrackEnd {
			break
		}
		for i := pos; i < pos+op.Size; i++ {
			if !visited[i] {
				visited[i] = true
				tickAt[i] = tick
			}
		}
		next := pos + op.Size

		switch op.Kind {
		case sequence.KindNote, sequence.KindRest:
			if op.Size == 2 {
				tick += uint32(data[pos+1])
			} else {
				tick += uint32(defLen)
			}
		case sequence.KindReturn:
			ret, err := calls.Pop()
			if err != nil {
				ti.TickCount = tick
				return
			}
			next = ret
		case sequence.KindCall:
			if calls.Push(pos+3) != nil {
				ti.TickCount = tick
				return
			}
			next = grcTarget(data, pos)
		case sequence.KindJump:
			next = grcTarget(data, pos)
			if next >= len(data) {
				ti.TickCount = tick
				return
			}
			if visited[next] {
				ti.LoopOffset = next
				ti.LoopTick = tickAt[next]
				ti.LoopTimes = loops
				ti.TickCount = tick
				return
			}
		default:
			switch {
			case op.Code&0xF0 == 0x80:
				if v := grcVolumes[op.Code&0x0F]; v < ti.MaxLevel {
					ti.MaxLevel = v
				}
			case op.Code == 0xF1:
				if v := data[pos+1] & 0x7F; v < ti.MaxLevel {
					ti.MaxLevel = v
				}
			case op.Code == 0xFD:
				defLen = data[pos+1]
			}
		}
		pos = next
	}
	ti.TickCount = tick
}

// GRC converts songs of the GRC Mega Drive sound driver from a ROM image.
type GRC struct{}

// NewGRC creates the GRC format handler.
func NewGRC() *GRC {
	return &GRC{}
}

// ID returns the format ID
func (g *GRC) ID() string {
	return converter.FormatGRC
}

// Name returns the format name
func (g *GRC) Name() string {
	return "GRC"
}

// Description returns a short description
func (g *GRC) Description() string {
	return "GRC Mega Drive sound driver (ROM image, needs the song list address)"
}

// Extensions returns the file extensions of the format
func (g *GRC) Extensions() []string {
	return []string{".bin", ".gen", ".md"}
}

// SongOffsets reads the song list at table. All offsets are relative to
// the list itself. With count 0 the number of songs is the number of
// entries in front of the lowest song offset.
func SongOffsets(rom []byte, table, count int) ([]int, error) {
	if table < 0 || table+2 > len(rom) {
		return nil, errors.Wrapf(ErrSongTable, "address 0x%06X outside of ROM", table)
	}
	read := func(pos int) int {
		return int(rom[pos]) | int(rom[pos+1])<<8
	}

	if count <= 0 {
		end := table + read(table)
		for pos := table; pos < end && pos+2 <= len(rom); pos += 2 {
			if p := table + read(pos); p < end {
				end = p
			}
			count++
		}
	}
	if count == 0 || table+count*2 > len(rom) {
		return nil, errors.Wrapf(ErrSongTable, "%d songs at 0x%06X", count, table)
	}

	offsets := make([]int, count)
	for i := range offsets {
		offsets[i] = read(table + i*2)
	}
	return offsets, nil
}

// Convert converts every song of the song list at opts.SongTable.
// Songs that fail are logged and skipped.
func (g *GRC) Convert(data []byte, opts converter.Options) (*converter.Result, error) {
	if len(data) > grcMaxSongData {
		data = data[:grcMaxSongData]
	}
	logger := opts.Log().With("format", g.ID())
	offsets, err := SongOffsets(data, opts.SongTable, opts.SongCount)
	if err != nil {
		return nil, err
	}
	if opts.SongCount <= 0 {
		logger.Debug("songs detected", "count", len(offsets))
	}

	songData := data[opts.SongTable:]
	res := &converter.Result{Format: g.ID()}
	for i, ofs := range offsets {
		songLog := logger.With("song", converter.SongSuffix(i)[1:])
		song, err := convertGRCSong(songData, ofs, opts, songLog)
		if err != nil {
			if errors.Is(err, ErrEmptySong) {
				songLog.Info("empty song, ignored")
			} else {
				songLog.Warn("song skipped", "err", err)
			}
			continue
		}
		song.Index = i
		song.Name = converter.SongSuffix(i)
		res.Songs = append(res.Songs, *song)
	}
	if len(res.Songs) == 0 {
		return nil, converter.ErrNoSongs
	}
	return res, nil
}

func convertGRCSong(data []byte, addr int, opts converter.Options, logger *log.Logger) (*converter.Song, error) {
	if addr+GRCHeaderTracks*3 > len(data) {
		return nil, errors.Wrapf(converter.ErrInputTooShort, "song header at 0x%04X", addr)
	}

	infos := make([]grcTrackInfo, GRCHeaderTracks)
	active := false
	for i := range infos {
		pos := addr + i*3
		ti := &infos[i]
		ti.Active = data[pos]&0x80 != 0
		ti.Start = int(data[pos+1]) | int(data[pos+2])<<8
		scanGRCTrack(data, ti, opts.LoopCount())
		if ti.Active && i < GRCMidiTracks {
			active = true
		}
	}
	if !active {
		return nil, ErrEmptySong
	}

	if !opts.NoLoopExtension {
		balance := make([]sequence.TrackInfo, len(infos))
		for i := range infos {
			balance[i] = infos[i].TrackInfo
		}
		if n := sequence.BalanceLoops(balance, grcMinLoopTicks); n > 0 {
			logger.Debug("extended loops", "tracks", n)
		}
		for i := range infos {
			infos[i].TrackInfo = balance[i]
		}
	}

	tpq := opts.TPQ(GRCResolution)
	w := smfio.NewWriter()
	w.WriteHeader(1, GRCMidiTracks+1, tpq)

	// tempo track: one tick per 60 Hz frame
	w.StartTrack()
	w.WriteTempo(units.FrameTempo(tpq, grcFrameRate))
	w.EndOfTrack()

	song := &converter.Song{}
	for i := 0; i < GRCMidiTracks; i++ {
		w.StartTrack()
		tr := newGRCTrack(w, data, i, infos[i], opts, logger)
		if !infos[i].Active {
			tr.ctx.Finish()
			continue
		}
		if err := runTrack(tr.ctx, tr.step); err != nil {
			song.Warnings = append(song.Warnings, trackWarning(i, err))
		}
	}
	song.Data = w.Bytes()
	logger.Info("converted", "tracks", GRCMidiTracks+1, "bytes", len(song.Data))
	return song, nil
}

// Hold modes of the GRC "no attack" command.
const (
	holdOff = iota
	holdSame
	holdSlide
)

type grcTrack struct {
	ctx  *sequence.Context
	data []byte
	info grcTrackInfo
	opts converter.Options

	level   uint8 // channel total level
	midVol  int   // last CC 7 value, -1 forces the next write
	panMask uint8
	side    bool
	defLen  uint8
	octave  int
	note    int // sounding note, -1 for none
	hold    int
	loop    int // completed loop passes, -1 before the loop start
	mod     int // last modulation preset, -1 for none
	modVals [5]uint8
}

func newGRCTrack(w *smfio.Writer, data []byte, track int, info grcTrackInfo, opts converter.Options, logger *log.Logger) *grcTrack {
	ctx := sequence.NewContext(w, data, info.Start, track, logger)
	if opts.MaxOutput > 0 {
		ctx.MaxOutput = opts.MaxOutput
	}
	tr := &grcTrack{
		ctx:     ctx,
		data:    data,
		info:    info,
		opts:    opts,
		level:   0x7F,
		midVol:  -1,
		note:    -1,
		loop:    -1,
		mod:     -1,
		modVals: smpsModulation(grcModulation[0]),
	}

	w.SetChannel(uint8(track))
	w.WriteMetaEvent(smfio.MetaPort, []byte{0x04})
	if info.VolumeBoost() {
		w.ControlChange(93, 0x08)
	}
	return tr
}

func (tr *grcTrack) writeVolume() {
	v := grcVolume(tr.level, tr.side, tr.info.VolumeBoost())
	if tr.opts.OptimizeVolume && int(v) == tr.midVol {
		return
	}
	tr.midVol = int(v)
	tr.ctx.W.ControlChange(0x07, v)
}

// loopRestart forces volume and modulation to be written again on the
// next pass through the loop.
func (tr *grcTrack) loopRestart() {
	tr.midVol = -1
	tr.mod = -1
}

func (tr *grcTrack) step() (bool, error) {
	ctx, w, data := tr.ctx, tr.ctx.W, tr.data
	pos := ctx.Cur.Pos()
	if pos >= len(data) {
		ctx.Warn("track runs past the end of the song data", pos)
		return true, nil
	}
	if tr.loop < 0 && pos == tr.info.LoopOffset {
		tr.loop = 0
		ctx.LoopMarker(0)
		tr.loopRestart()
	}

	op, err := decodeGRCOp(data, pos)
	if err != nil {
		return false, err
	}
	next := pos + op.Size
	code := op.Code

	switch {
	case op.Kind == sequence.KindUnknown:
		return false, ctx.Unknown(code, pos)
	case op.Kind == sequence.KindNote || op.Kind == sequence.KindRest:
		if err := tr.playNote(code, pos); err != nil {
			return false, err
		}
	case code&0xF0 == 0x80:
		tr.level = grcVolumes[code&0x0F]
		tr.writeVolume()
	case code&0xF0 == 0x90:
		tr.octave = int(code & 0x0F)
	}

	switch code {
	case 0xEF:
		detune(w, int8(data[pos+1]), 64)
	case 0xF0, 0xF3, 0xF4, 0xF5, 0xF6, 0xF7:
		// SFX ID, fade speed, track sync, timer B, AMS/FMS, LFO
		ctx.Unmapped(code)
	case 0xF1:
		tr.level = data[pos+1] & 0x7F
		tr.writeVolume()
	case 0xF2:
		// DAC on/off
		if data[pos+1] != 0 {
			w.ControlChange(0x00, 0x7F)
		} else {
			w.ControlChange(0x00, 0x00)
		}
	case 0xF8:
		ret, err := ctx.Calls.Pop()
		if err != nil {
			ctx.Warn("return without call", pos)
			return true, nil
		}
		next = ret
	case 0xF9:
		if err := ctx.Calls.Push(pos + 3); err != nil {
			return false, err
		}
		next = grcTarget(data, pos)
	case 0xFA:
		next = grcTarget(data, pos)
		if next >= len(data) {
			return false, errors.Wrapf(sequence.ErrOutOfRange, "jump to 0x%04X at 0x%04X", next, pos)
		}
		if next == tr.info.LoopOffset || next <= pos {
			if tr.loop < 0 {
				tr.loop = 0
			}
			tr.loop++
			if tr.loop >= tr.loopTimes() {
				return true, nil
			}
			ctx.LoopMarker(tr.loop)
			tr.loopRestart()
		}
	case 0xFB:
		tr.modulation(data[pos+1], pos)
	case 0xFC:
		w.WriteEvent(0xC0, data[pos+1], 0)
	case 0xFD:
		tr.defLen = data[pos+1]
	case 0xFE:
		if tr.hold == holdOff {
			tr.hold = holdSame
		}
	case 0xFF:
		return true, nil
	}

	return false, ctx.Cur.Seek(next)
}

func (tr *grcTrack) loopTimes() int {
	if tr.info.Looped() {
		return tr.info.LoopTimes
	}
	return tr.opts.LoopCount()
}

// playNote handles a note or rest command. Bits 0-3 select the pitch,
// bit 4 an explicit length byte and bits 5-6 the stereo mask.
func (tr *grcTrack) playNote(code uint8, pos int) error {
	ctx, w := tr.ctx, tr.ctx.W
	note := -1
	if s := grcScale[code&0x0F]; s != 0xFF {
		switch n := tr.octave*12 + int(s) - 1; {
		case n > 0x7F:
			ctx.Warn("note out of range skipped", pos, "note", n)
		case n >= 0:
			note = n
		}
	}

	if tr.hold != holdOff && tr.note != note {
		switch {
		case note < 0:
			ctx.Warn("hold before a rest ignored", pos)
			tr.hold = holdOff
		case tr.note < 0:
			tr.hold = holdOff
		default:
			tr.hold = holdSlide
		}
	}
	if tr.note >= 0 && tr.hold == holdOff {
		w.NoteOff(uint8(tr.note))
	}

	if note >= 0 {
		// the stereo mask only has an effect on played notes
		if mask := (code & 0x60) << 1; mask != tr.panMask {
			tr.panMask = mask
			pan, side := units.StereoMaskToPan(mask)
			w.ControlChange(0x0A, pan)
			if side != tr.side {
				tr.side = side
				tr.writeVolume()
			}
		}

		switch tr.hold {
		case holdOff:
			if err := w.NoteOn(uint8(note), 0x7F, smfio.Sustain); err != nil {
				return err
			}
		case holdSlide:
			w.ControlChange(0x41, 0x7F)
			w.NoteOff(uint8(tr.note))
			if err := w.NoteOn(uint8(note), 0x7F, smfio.Sustain); err != nil {
				return err
			}
		}
	}

	if code&0x10 != 0 {
		w.AddDelay(uint32(tr.data[pos+1]))
	} else {
		w.AddDelay(uint32(tr.defLen))
	}

	if tr.hold == holdSlide {
		w.ControlChange(0x41, 0x00)
	}
	tr.note = note
	tr.hold = holdOff
	return nil
}

func (tr *grcTrack) modulation(preset uint8, pos int) {
	w := tr.ctx.W
	if preset == 0 {
		w.ControlChange(0x01, 0x00)
		return
	}
	if int(preset) >= len(grcModulation) {
		tr.ctx.Warn("unknown modulation preset", pos, "preset", preset)
		tr.ctx.Unmapped(0xFB)
		return
	}
	if tr.mod != int(preset) {
		tr.modVals = smpsModulation(grcModulation[preset])
		tr.mod = int(preset)
		for i := 0; i < 4; i++ {
			w.ControlChange(0x10|uint8(i), tr.modVals[i])
		}
		w.ControlChange(0x21, preset)
	}
	w.ControlChange(0x01, tr.modVals[4])
}
