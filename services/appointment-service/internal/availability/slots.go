package availability

// StepStarts returns the start minutes of every window [s, s+duration) that
// fits inside [open, close), stepping from open by step. Starts earlier than
// notBefore are skipped; pass 0 to keep them all.
func StepStarts(open, close, duration, step, notBefore int) []int {
	if duration <= 0 || step <= 0 || close <= open {
		return nil
	}
	var starts []int
	for s := open; s+duration <= close; s += step {
		if s < notBefore {
			continue
		}
		starts = append(starts, s)
	}
	return starts
}

// Overlaps reports whether half-open minute ranges [aStart,aEnd) and
// [bStart,bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}
