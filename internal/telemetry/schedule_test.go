package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextReadableRoundRobinsFromOffset(t *testing.T) {
	pending := map[int]bool{0: true, 1: true, 2: true}

	slot, rr, ok := nextReadable(pending, 2, 0)
	require.True(t, ok)
	require.Equal(t, 0, slot)
	require.Equal(t, 1, rr)

	slot, rr, ok = nextReadable(pending, 2, rr)
	require.True(t, ok)
	require.Equal(t, 1, slot)
	require.Equal(t, 2, rr)
}

func TestNextReadableSkipsNonPendingSlots(t *testing.T) {
	pending := map[int]bool{2: true}
	slot, _, ok := nextReadable(pending, 2, 0)
	require.True(t, ok)
	require.Equal(t, 2, slot)
}

func TestNextReadableReturnsFalseWhenNothingPending(t *testing.T) {
	_, rr, ok := nextReadable(map[int]bool{}, 2, 1)
	require.False(t, ok)
	require.Equal(t, 1, rr, "rr must not advance when nothing was serviced")
}

// TestNextReadableFairnessOverWindow is B4: a single slow (never-dequeued)
// peer cannot starve others. Over any window of K turns with all M peers
// continuously pending, each peer is serviced at least floor(K/M) times.
func TestNextReadableFairnessOverWindow(t *testing.T) {
	const m = 4
	const k = 40
	pending := map[int]bool{0: true, 1: true, 2: true, 3: true}

	counts := make([]int, m)
	rr := 0
	for turn := 0; turn < k; turn++ {
		slot, nextRR, ok := nextReadable(pending, m-1, rr)
		require.True(t, ok)
		counts[slot]++
		rr = nextRR
	}

	for i, c := range counts {
		require.GreaterOrEqualf(t, c, k/m, "peer %d starved: serviced %d times over %d turns", i, c, k)
	}
}
