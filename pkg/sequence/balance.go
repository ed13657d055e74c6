package sequence

// TrackInfo is the result of a track pre-pass.
type TrackInfo struct {
	TickCount  uint32 // total ticks including one pass of the loop
	LoopTick   uint32 // tick at which the master loop starts
	LoopOffset int    // offset of the master loop, -1 if the track does not loop
	LoopTimes  int    // how often the loop is played, 0 for non-looping tracks
}

// Looped reports whether the track has a master loop.
func (ti TrackInfo) Looped() bool {
	return ti.LoopOffset >= 0 && ti.LoopTimes > 0
}

// LoopTicks returns the length of the loop body.
func (ti TrackInfo) LoopTicks() uint32 {
	if !ti.Looped() || ti.LoopTick > ti.TickCount {
		return 0
	}
	return ti.TickCount - ti.LoopTick
}

// Length returns the played length with all loop repeats.
func (ti TrackInfo) Length() uint32 {
	if !ti.Looped() {
		return ti.TickCount
	}
	return ti.TickCount + ti.LoopTicks()*uint32(ti.LoopTimes-1)
}

// BalanceLoops raises the loop count of tracks that end well before the
// longest track, so that all tracks play for about the same time.
//
// A track is extended when its length plus a quarter is still shorter than
// the longest track (length*5/4 < max). Loops shorter than minLoopTicks are
// left alone. Rounding can make an extended track the new longest one, so
// passes repeat until nothing changes; balancing a balanced set is a no-op.
// It returns the number of tracks whose loop count changed.
func BalanceLoops(tracks []TrackInfo, minLoopTicks uint32) int {
	changed := make([]bool, len(tracks))
	for pass := 0; pass <= len(tracks); pass++ {
		if !balancePass(tracks, minLoopTicks, changed) {
			break
		}
	}

	adjusted := 0
	for _, c := range changed {
		if c {
			adjusted++
		}
	}
	return adjusted
}

func balancePass(tracks []TrackInfo, minLoopTicks uint32, changed []bool) bool {
	var maxLen uint32
	for _, ti := range tracks {
		if l := ti.Length(); l > maxLen {
			maxLen = l
		}
	}

	moved := false
	for i := range tracks {
		ti := &tracks[i]
		loopLen := ti.LoopTicks()
		if loopLen == 0 || loopLen < minLoopTicks {
			continue
		}
		if uint64(ti.Length())*5/4 >= uint64(maxLen) {
			continue
		}
		want := maxLen - ti.LoopTick
		if n := int((want + loopLen/3) / loopLen); n != ti.LoopTimes {
			ti.LoopTimes = n
			changed[i] = true
			moved = true
		}
	}
	return moved
}
