// Package drivers implements the source formats: the GRC, Twinkle Soft and
// FMP sound drivers and the MIDI format 1 to format 0 merger.
package drivers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/sequence"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/smfio"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/units"
)

// maxScanSteps bounds a pre-pass over one track.
const maxScanSteps = 1 << 20

// rawPitchBend marks a track that sends pitch bend values unscaled.
const rawPitchBend = 0xFF

// All returns every registered format.
func All() []converter.Format {
	return []converter.Format{
		NewGRC(),
		NewTwinkle(),
		NewFMP(),
		NewMIDI1to0(),
	}
}

// IDs returns the IDs of all registered formats.
func IDs() []string {
	formats := All()
	ids := make([]string, len(formats))
	for i, f := range formats {
		ids[i] = f.ID()
	}
	return ids
}

// Lookup returns the format with the given ID.
func Lookup(id string) (converter.Format, error) {
	id = strings.ToLower(id)
	for _, f := range All() {
		if f.ID() == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", converter.ErrUnknownFormat, id)
}

// stepFunc decodes one command of a track. It reports true once the track
// has ended.
type stepFunc func() (bool, error)

// runTrack decodes a track until it ends and closes it. An unknown opcode
// ends the track normally; any other error cuts the running notes.
func runTrack(ctx *sequence.Context, step stepFunc) error {
	for {
		if err := ctx.CheckOutput(); err != nil {
			ctx.Abort(err)
			return err
		}
		done, err := step()
		if err != nil {
			if errors.Is(err, sequence.ErrUnknownOpcode) {
				ctx.Finish()
			} else {
				ctx.Abort(err)
			}
			return err
		}
		if done {
			ctx.Finish()
			return nil
		}
	}
}

// trackWarning formats a track error for Song.Warnings.
func trackWarning(track int, err error) string {
	return fmt.Sprintf("track %d: %v", track, err)
}

// playNote starts a note that ends after length ticks. If the same pitch is
// still sounding, its end is moved instead and no new Note On is written.
func playNote(w *smfio.Writer, note, vel uint8, length uint32) error {
	w.CheckNotes()
	if w.Notes().Extend(w.Channel(), note&0x7F, w.Delay()+length) {
		return nil
	}
	return w.NoteOn(note, vel, length)
}

// detune writes a pitch bend of s*scale around the centre.
func detune(w *smfio.Writer, s int8, scale int) {
	v := 0x2000 + int(s)*scale
	w.PitchBend(uint16(v) & 0x3FFF)
}

// pitchBend writes a bend of bend/256 semitones. The pitch bend range is
// raised through RPN 0 when the bend does not fit.
func pitchBend(w *smfio.Writer, pbRange *uint8, bend int16) {
	if *pbRange == rawPitchBend {
		w.PitchBend(uint16(int(bend)+0x2000) & 0x3FFF)
		return
	}
	if r, changed := units.FitPitchBendRange(*pbRange, bend); changed {
		*pbRange = r
		w.ControlChange(0x65, 0x00)
		w.ControlChange(0x64, 0x00)
		w.ControlChange(0x06, r)
	}
	w.PitchBend(units.PitchBendValue(bend, *pbRange))
}

// checkOp fails if an opcode of the given size does not fit into data.
func checkOp(data []byte, op sequence.Op) (sequence.Op, error) {
	if op.Pos+op.Size > len(data) {
		return op, errors.Wrapf(sequence.ErrOutOfRange, "opcode 0x%02X at 0x%04X", op.Code, op.Pos)
	}
	return op, nil
}
