package smfio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotMIDI is returned when the data does not start with an MThd chunk.
	ErrNotMIDI = errors.New("not a MIDI file")
	// ErrBadChunk is returned when an expected MTrk chunk is missing or truncated.
	ErrBadChunk = errors.New("missing or truncated MTrk chunk")
	// ErrRunningStatus is returned for a data byte with no running status to reuse.
	ErrRunningStatus = errors.New("data byte without running status")
	// ErrBadEvent is returned for status bytes that may not appear in a MIDI file.
	ErrBadEvent = errors.New("invalid event")
)

// mergeEvent is one event of a source track at its absolute tick.
type mergeEvent struct {
	tick   uint64
	status byte
	meta   byte
	data   []byte
}

// MergeToFormat0 merges all tracks of a format 0/1 MIDI file into a single
// format 0 track with the same time division. Events are ordered by
// absolute tick; events on the same tick keep their source track order.
// Channel prefix, port and end-of-track meta events are dropped and a
// single end-of-track is written at the end.
func MergeToFormat0(data []byte) ([]byte, error) {
	if len(data) < 14 || string(data[0:4]) != "MThd" {
		return nil, ErrNotMIDI
	}
	hdrLen := int(binary.BigEndian.Uint32(data[4:8]))
	if hdrLen < 6 || 8+hdrLen > len(data) {
		return nil, fmt.Errorf("header length %d: %w", hdrLen, ErrNotMIDI)
	}
	trkCnt := int(binary.BigEndian.Uint16(data[10:12]))
	division := binary.BigEndian.Uint16(data[12:14])

	var events []mergeEvent
	pos := 8 + hdrLen
	for trk := 0; trk < trkCnt; trk++ {
		if pos+8 > len(data) || string(data[pos:pos+4]) != "MTrk" {
			return nil, fmt.Errorf("track %d at 0x%X: %w", trk, pos, ErrBadChunk)
		}
		size := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		start := pos + 8
		end := start + size
		if end > len(data) {
			return nil, fmt.Errorf("track %d at 0x%X: %w", trk, pos, ErrBadChunk)
		}
		evts, err := readTrackEvents(data[:end], start)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", trk, err)
		}
		events = append(events, evts...)
		pos = end
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].tick < events[j].tick
	})

	w := NewWriter()
	w.RunningStatus = true
	w.WriteHeader(0, 1, division)
	w.StartTrack()
	var last uint64
	for _, e := range events {
		w.AddDelay(uint32(e.tick - last))
		last = e.tick
		switch {
		case e.status == 0xFF:
			w.WriteMetaEvent(e.meta, e.data)
		case e.status == 0xF0 || e.status == 0xF7:
			w.WriteLongEvent(e.status, e.data)
		default:
			w.SetChannel(e.status & 0x0F)
			var v2 byte
			if len(e.data) > 1 {
				v2 = e.data[1]
			}
			w.WriteEvent(e.status&0xF0, e.data[0], v2)
		}
	}
	w.WriteMetaEvent(MetaEndOfTrack, nil)
	w.EndTrack()
	return w.Bytes(), nil
}

// readTrackEvents decodes the events of one MTrk body from data[pos:].
func readTrackEvents(data []byte, pos int) ([]mergeEvent, error) {
	var (
		events  []mergeEvent
		tick    uint64
		running byte
	)
	for pos < len(data) {
		dly, n, err := DecodeVarLen(data, pos)
		if err != nil {
			return nil, fmt.Errorf("delay at 0x%X: %w", pos, err)
		}
		pos += n
		tick += uint64(dly)
		if pos >= len(data) {
			return nil, fmt.Errorf("event at 0x%X: %w", pos, ErrVarLenTruncated)
		}

		status := data[pos]
		if status&0x80 != 0 {
			pos++
			if status < 0xF0 {
				running = status
			}
		} else {
			if running == 0 {
				return nil, fmt.Errorf("offset 0x%X: %w", pos, ErrRunningStatus)
			}
			status = running
		}

		switch {
		case status < 0xF0:
			size := 2
			if status&0xF0 == 0xC0 || status&0xF0 == 0xD0 {
				size = 1
			}
			if pos+size > len(data) {
				return nil, fmt.Errorf("event at 0x%X: %w", pos, ErrBadChunk)
			}
			events = append(events, mergeEvent{tick: tick, status: status, data: data[pos : pos+size]})
			pos += size
		case status == 0xF0 || status == 0xF7:
			size, n, err := DecodeVarLen(data, pos)
			if err != nil {
				return nil, fmt.Errorf("sysex at 0x%X: %w", pos, err)
			}
			pos += n
			if pos+int(size) > len(data) {
				return nil, fmt.Errorf("sysex at 0x%X: %w", pos, ErrBadChunk)
			}
			events = append(events, mergeEvent{tick: tick, status: status, data: data[pos : pos+int(size)]})
			pos += int(size)
		case status == 0xFF:
			if pos >= len(data) {
				return nil, fmt.Errorf("meta at 0x%X: %w", pos, ErrBadChunk)
			}
			meta := data[pos]
			size, n, err := DecodeVarLen(data, pos+1)
			if err != nil {
				return nil, fmt.Errorf("meta at 0x%X: %w", pos, err)
			}
			pos += 1 + n
			if pos+int(size) > len(data) {
				return nil, fmt.Errorf("meta at 0x%X: %w", pos, ErrBadChunk)
			}
			body := data[pos : pos+int(size)]
			pos += int(size)
			switch meta {
			case MetaChannelPrefix, MetaPort, MetaEndOfTrack:
				continue
			}
			events = append(events, mergeEvent{tick: tick, status: status, meta: meta, data: body})
		default:
			return nil, fmt.Errorf("status 0x%02X at 0x%X: %w", status, pos-1, ErrBadEvent)
		}
	}
	return events, nil
}
