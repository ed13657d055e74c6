// Package units converts sound-chip volume, pan, tempo and pitch values
// into MIDI values, using decibels as the intermediate scale.
package units

import "math"

// Silence is the decibel value used for "no sound".
const Silence = -999.9

// dbPerNepper is 6/ln(2): multiplying a natural log by it gives 6 dB per doubling.
const dbPerNepper = 8.65617024533378

// AttenuationToDB converts a linear attenuation register value into
// (negative) decibels, given the size of one step in dB.
func AttenuationToDB(value, stepDB float64) float64 {
	return -(value * stepDB)
}

// LinearToDB converts a linear volume relative to fullScale into decibels.
// A value of 0 returns Silence.
func LinearToDB(value, fullScale float64) float64 {
	if value <= 0 || fullScale <= 0 {
		return Silence
	}
	return math.Log(value/fullScale) * dbPerNepper
}

// DBToMIDI maps decibels to a MIDI volume/velocity (0-127) on the
// 10^(dB/40) curve. Values above 0 dB are clamped to 127.
func DBToMIDI(db float64) uint8 {
	if math.IsNaN(db) || db <= Silence {
		return 0
	}
	if db > 0 {
		db = 0
	}
	v := math.Pow(10, db/40)*0x7F + 0.5
	if v > 0x7F {
		return 0x7F
	}
	return uint8(v)
}

// OPNToDB converts a YM2203/YM2612 Total Level value (0.75 dB steps).
func OPNToDB(tl uint8) float64 {
	return AttenuationToDB(float64(tl), 0.75)
}

// PanBitsToMIDI converts the 2-bit OPN pan register (bit 0 = right,
// bit 1 = left) to a MIDI pan value.
func PanBitsToMIDI(bits uint8) uint8 {
	switch bits & 0x03 {
	case 0x01:
		return 0x7F
	case 0x02:
		return 0x00
	case 0x03:
		return 0x40
	}
	return 0x3F
}

// StereoMaskToPan converts the YM2612 stereo mask (bits 6-7) to a MIDI pan
// value. side reports whether only one speaker is enabled.
func StereoMaskToPan(mask uint8) (pan uint8, side bool) {
	switch mask & 0xC0 {
	case 0x40:
		return 0x00, true
	case 0x80:
		return 0x7F, true
	}
	return 0x40, false
}


// BPMToTempo converts beats per minute to microseconds per quarter note.
func BPMToTempo(bpm float64) uint32 {
	if bpm <= 0 {
		return 500000
	}
	return uint32(60000000/bpm + 0.5)
}

// FrameTempo returns the MIDI tempo for a sequence that advances one tick
// per frame at the given rate.
func FrameTempo(ticksPerQuarter uint16, framesPerSecond float64) uint32 {
	return uint32(1000000*float64(ticksPerQuarter)/framesPerSecond + 0.5)
}

// GSChecksum computes the Roland checksum over address and data bytes.
func GSChecksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return (0x80 - sum) & 0x7F
}

// FitPitchBendRange checks whether a pitch bend of bend/256 semitones fits
// into the current range (in semitones). It returns the range to use and
// whether it differs from cur, in which case the caller has to send the
// pitch bend range RPN.
func FitPitchBendRange(cur uint8, bend int16) (uint8, bool) {
	abs := int(bend)
	if abs < 0 {
		abs = -abs
	}
	required := (abs + 0xFF) >> 8
	if int(cur) >= required {
		return cur, false
	}
	if cur == 0 && required < 16 {
		return 16, true
	}
	return uint8((required + 7) &^ 7), true
}

// PitchBendValue scales a pitch bend of bend/256 semitones to the 14-bit
// MIDI pitch bend value for the given range.
func PitchBendValue(bend int16, rangeSemitones uint8) uint16 {
	if rangeSemitones == 0 {
		return 0x2000
	}
	v := int(bend)*8192/int(rangeSemitones)/256 + 0x2000
	if v < 0 {
		v = 0
	} else if v > 0x3FFF {
		v = 0x3FFF
	}
	return uint16(v)
}
