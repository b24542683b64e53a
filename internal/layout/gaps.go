package layout

// NextGap returns the lowest bit offset >= from that no slot covers. Slots
// must be sorted by BitOffset, which Layout guarantees. Past the last slot
// every offset is a gap; callers bound the scan with ObjectBits.
func NextGap(slots []Slot, from int64) int64 {
	if from < 0 {
		from = 0
	}
	for _, s := range slots {
		if s.End() <= from {
			continue
		}
		if s.BitOffset > from {
			return from
		}
		from = s.End()
	}
	return from
}

// WordHasGap reports whether the 64-bit word starting at bit 64*word has at
// least one bit not covered by any slot. Alignment padding and the rounding
// tail both count as gaps.
func WordHasGap(slots []Slot, word int64) bool {
	start := word * 64
	return NextGap(slots, start) < start+64
}
