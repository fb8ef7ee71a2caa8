// Package backend defines the unified output-backend contract (spec §4.7)
// shared by the file, AMQP, and Kafka implementations.
package backend

import (
	"context"
	"sync"
	"time"
)

// Backend is the contract every output backend satisfies, whether it backs
// the message-log channel or the dump channel. Exactly one backend is
// active per channel at a time (spec §3 I4).
type Backend interface {
	// Init sets credentials, endpoint, topic/exchange, and retry interval.
	// Called once at startup and again whenever a broker is reinitialized
	// after a recorded failure.
	Init(ctx context.Context, host string) error

	// Connect opens the backend's connection. On failure it must record
	// a last-failure timestamp observable through Timers().
	Connect(ctx context.Context) error

	// Publish enqueues or sends one record. A failed send records a
	// last-failure timestamp the same way Connect does; with no open
	// connection it returns an error and leaves the timers as Connect set
	// them.
	Publish(ctx context.Context, routingHint string, payload []byte) error

	// Close performs an orderly (force=false) or immediate (force=true)
	// teardown.
	Close(ctx context.Context, force bool) error

	// Timers exposes the last-failure/retry-interval governor so the
	// reactor can decide when to attempt a reconnect (spec §3 "Broker
	// state", §4.3 step 5).
	Timers() *Timers
}

// Timers tracks a broker client's last-failure time and retry interval
// (spec §3 "Broker state", §4.7). Reinitialization is attempted by the
// reactor when LastFail is non-zero and LastFail+RetryInterval <= now.
type Timers struct {
	mu            sync.Mutex
	lastFail      time.Time
	retryInterval time.Duration
}

// NewTimers returns a Timers governed by the given retry interval.
func NewTimers(retryInterval time.Duration) *Timers {
	return &Timers{retryInterval: retryInterval}
}

// RecordFailure stamps the current time as the last failure.
func (t *Timers) RecordFailure(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFail = now
}

// ClearFailure resets the last-failure marker, e.g. after a successful
// reconnect (R2).
func (t *Timers) ClearFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFail = time.Time{}
}

// ShouldRetry reports whether a reconnect is due: last-failure is non-zero
// and last-failure+retry-interval <= now.
func (t *Timers) ShouldRetry(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastFail.IsZero() {
		return false
	}
	return !t.lastFail.Add(t.retryInterval).After(now)
}

// LastFail returns the last recorded failure time (zero value if none).
func (t *Timers) LastFail() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFail
}

// Reloadable is implemented by backends that support the reactor's reload
// step (spec §4.3 step 4, R1): close and reopen in place, preserving
// filenames. Only the file backend satisfies this today.
type Reloadable interface {
	Reload() error
}
