package converter

import (
	"bytes"
	"fmt"
	"io"

	"gitlab.com/gomidi/midi/v2/smf"
)

// TrackSummary describes one track of a MIDI file
type TrackSummary struct {
	Index  int    `json:"index"`
	Name   string `json:"name,omitempty"`
	Events int    `json:"events"`
	Notes  int    `json:"notes"`
	SysEx  int    `json:"sysex"`
	Roland int    `json:"roland_sysex"` // SysEx messages addressed to Roland devices
	Ticks  int64  `json:"ticks"`
}

// Summary describes a MIDI file
type Summary struct {
	Format     uint16         `json:"format"`
	Resolution uint16         `json:"resolution"`
	Tempo      float64        `json:"tempo"` // first tempo in BPM, 0 if none
	Tracks     []TrackSummary `json:"tracks"`
	Ticks      int64          `json:"ticks"` // length of the longest track
}

// Summarize parses MIDI data and collects per-track statistics
func Summarize(data []byte) (*Summary, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	sum := &Summary{Tracks: make([]TrackSummary, 0, len(s.Tracks))}
	if len(data) >= 10 {
		sum.Format = uint16(data[8])<<8 | uint16(data[9])
	}
	// Get ticks per quarter note from time format
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		sum.Resolution = mt.Resolution()
	}

	for i, track := range s.Tracks {
		ts := TrackSummary{Index: i}
		for _, ev := range track {
			ts.Ticks += int64(ev.Delta)
			ts.Events++

			msg := ev.Message
			switch {
			// Tempo meta message (FF 51 03 ...)
			case len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03:
				usPerBeat := uint32(msg[3])<<16 | uint32(msg[4])<<8 | uint32(msg[5])
				if usPerBeat > 0 && sum.Tempo == 0 {
					sum.Tempo = 60000000.0 / float64(usPerBeat)
				}
			// Track name meta message (FF 03 len ...)
			case len(msg) >= 3 && msg[0] == 0xFF && msg[1] == 0x03:
				if ts.Name == "" {
					ts.Name = string(msg[3:])
				}
			// Note On with velocity > 0
			case len(msg) >= 3 && msg[0]&0xF0 == 0x90 && msg[2] > 0:
				ts.Notes++
			case len(msg) >= 2 && msg[0] == SysExStart:
				ts.SysEx++
				if IsRolandSysEx(msg[1:]) {
					ts.Roland++
				}
			}
		}
		if ts.Ticks > sum.Ticks {
			sum.Ticks = ts.Ticks
		}
		sum.Tracks = append(sum.Tracks, ts)
	}
	return sum, nil
}

// Dump writes every event of a MIDI file with its absolute tick
func Dump(data []byte, w io.Writer) error {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse MIDI: %w", err)
	}

	fmt.Fprintf(w, "%d track(s), time format %s\n", len(s.Tracks), s.TimeFormat)
	for i, track := range s.Tracks {
		fmt.Fprintf(w, "Track %d:\n", i)
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			fmt.Fprintf(w, "  %8d  %s\n", tick, ev.Message.String())
		}
	}
	return nil
}
