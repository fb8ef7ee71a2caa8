package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTimekeeperDisabledWhenPeriodZero(t *testing.T) {
	tk := NewTimekeeper(0, time.Now())
	require.False(t, tk.Enabled()) // B3
	_, ok := tk.WaitTimeout(time.Now())
	require.False(t, ok) // B2: unbounded wait
}

func TestNewTimekeeperFirstDeadlineIsFutureAlignedToMinute(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC) // 30s past a minute boundary
	period := 60 * time.Second

	tk := NewTimekeeper(period, now)
	require.True(t, tk.Enabled())
	require.True(t, tk.Deadline().After(now)) // P4
	// First deadline is the next minute boundary, not one period beyond it
	// (S4: an aligned t0 fires its first dump at t0+60, not t0+120).
	require.True(t, tk.Deadline().Sub(now) <= period)
	require.Equal(t, time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC), tk.Deadline())
}

func TestNewTimekeeperFirstDeadlineIsExactlyOnePeriodPastAlignedBasetime(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) // already on a minute boundary
	period := 60 * time.Second

	tk := NewTimekeeper(period, now)
	require.Equal(t, now.Add(period), tk.Deadline(), "t0 aligned on the minute must fire its first dump at t0+period, not t0+2*period")
}

func TestTimekeeperAdvanceAndDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tk := NewTimekeeper(60*time.Second, now)
	deadline := tk.Deadline()

	require.False(t, tk.Due(now))

	past := deadline.Add(90 * time.Second) // crossed two boundaries
	crossings := 0
	for tk.Due(past) {
		tk.Advance()
		crossings++
	}
	require.Equal(t, 2, crossings)
	require.True(t, tk.Deadline().After(past)) // P4 holds again after catch-up
}
