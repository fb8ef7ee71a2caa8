package telemetry

import "time"

// Timekeeper maintains the reactor's notion of "now", the upcoming dump
// deadline, and its advancement (spec §3 "Dump state", §4.4).
type Timekeeper struct {
	period time.Duration // 0 means dumps are disabled (B3)

	deadline time.Time
	enabled  bool
}

// NewTimekeeper builds a Timekeeper for the given dump refresh period,
// aligning the first deadline per spec §4.4: round now down to a minute
// boundary and advance by whole periods; the first deadline is the first
// such boundary strictly past now (so a now already on a minute boundary
// gets now+period). No further period is added on top of that boundary.
func NewTimekeeper(period time.Duration, now time.Time) *Timekeeper {
	tk := &Timekeeper{period: period}
	if period <= 0 {
		return tk
	}
	tk.enabled = true
	tk.deadline = initialDeadline(now, period)
	return tk
}

func initialDeadline(now time.Time, period time.Duration) time.Time {
	base := now.Truncate(time.Minute)
	d := base
	for !d.Add(period).After(now) {
		d = d.Add(period)
	}
	// d+period is the first boundary strictly exceeding now; that boundary
	// is itself the first deadline (telemetry.c:320-321: deadline = basetime;
	// deadline += refresh — exactly one period past the base).
	return d.Add(period)
}

// Enabled reports whether the dump scheduler is armed (B3).
func (tk *Timekeeper) Enabled() bool { return tk.enabled }

// Deadline returns the current dump deadline.
func (tk *Timekeeper) Deadline() time.Time { return tk.deadline }

// Advance moves the deadline forward by one period (spec §4.3 step 5:
// "advance deadline by the period until this holds"). Callers loop calling
// Advance while Due(now) holds, firing one dump per crossed boundary.
func (tk *Timekeeper) Advance() {
	tk.deadline = tk.deadline.Add(tk.period)
}

// Due reports whether now has crossed the current deadline (P4's
// complement: the condition under which the reactor must fire a dump and
// advance).
func (tk *Timekeeper) Due(now time.Time) bool {
	return tk.enabled && now.After(tk.deadline)
}

// WaitTimeout returns how long the reactor should wait before the next
// deadline. The bool is false when dumps are disabled, meaning the wait is
// unbounded (B2).
func (tk *Timekeeper) WaitTimeout(now time.Time) (time.Duration, bool) {
	if !tk.enabled {
		return 0, false
	}
	d := tk.deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
