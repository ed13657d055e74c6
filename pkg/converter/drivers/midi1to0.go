package drivers

import (
	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/smfio"
)

// MIDI1to0 merges the tracks of a Standard MIDI File into one format 0 track.
type MIDI1to0 struct{}

// NewMIDI1to0 creates the merger.
func NewMIDI1to0() *MIDI1to0 {
	return &MIDI1to0{}
}

// ID returns the format ID
func (m *MIDI1to0) ID() string {
	return converter.FormatMIDI1to0
}

// Name returns the format name
func (m *MIDI1to0) Name() string {
	return "MIDI 1 to 0"
}

// Description returns a short description
func (m *MIDI1to0) Description() string {
	return "Standard MIDI File, merged into a single format 0 track"
}

// Extensions returns the file extensions of the format
func (m *MIDI1to0) Extensions() []string {
	return []string{".mid", ".midi"}
}

// Convert merges all tracks by absolute time.
func (m *MIDI1to0) Convert(data []byte, opts converter.Options) (*converter.Result, error) {
	out, err := smfio.MergeToFormat0(data)
	if err != nil {
		return nil, err
	}
	opts.Log().Info("merged", "format", m.ID(), "bytes", len(out))
	return &converter.Result{
		Format: m.ID(),
		Songs:  []converter.Song{{Data: out}},
	}, nil
}
