package telemetry

// nextReadable implements the round-robin read-dispatch scan of spec §4.3
// step 8: starting from offset rr, scan the first maxOccupiedIndex+1 slots
// modulo that bound, returning the first one with pending data. This is
// split out from Reactor so it can be tested without any real sockets
// (spec §8 B4, R round-robin fairness).
func nextReadable(pending map[int]bool, maxOccupiedIndex int, rr int) (slot int, nextRR int, ok bool) {
	if maxOccupiedIndex < 0 {
		return 0, rr, false
	}
	bound := maxOccupiedIndex + 1
	for i := 0; i < bound; i++ {
		loc := (i + rr) % bound
		if pending[loc] {
			return loc, (rr + 1) % bound, true
		}
	}
	return 0, rr, false
}
