package telemetry

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pmacct-telemetry/telemetryd/internal/record"
)

// countingDecoder records every frame it is handed, for assertions, and
// never carries over a partial message.
type countingDecoder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (d *countingDecoder) Decode(_ *Peer, frame []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append([]byte(nil), frame...)
	d.frames = append(d.frames, cp)
	return 0
}

func (d *countingDecoder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return logrus.NewEntry(l)
}

func newTestReactor(t *testing.T, capacity int, acl *ACL, decoder Decoder) (*Reactor, net.Addr) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	table := NewPeerTable(capacity)
	if acl == nil {
		acl = &ACL{}
	}
	msglog := NewMsgLogSink("", "", nil, testLogger())
	tk := NewTimekeeper(0, time.Now())
	r := NewReactor(ln, table, acl, decoder, msglog, tk, nil, "", testLogger())
	return r, ln.Addr()
}

func TestReactorDecodesFramesFromAcceptedPeer(t *testing.T) {
	decoder := &countingDecoder{}
	r, addr := newTestReactor(t, 4, nil, decoder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); r.Run(ctx) }()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello-world"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return decoder.count() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestReactorRejectsPeerNotInACL(t *testing.T) {
	acl, err := LoadACLFromLines([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	decoder := &countingDecoder{}
	r, addr := newTestReactor(t, 4, acl, decoder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); r.Run(ctx) }()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	require.Error(t, err) // rejected connection is closed by the reactor

	cancel()
	<-done
}

func TestReactorClosesImmediatelyWhenTableFull(t *testing.T) {
	decoder := &countingDecoder{}
	r, addr := newTestReactor(t, 1, nil, decoder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); r.Run(ctx) }()

	first, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, func() bool { return r.table.Count() == 1 }, time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(time.Second))
	_, err = second.Read(buf) // B1/S2: table full, closed immediately
	require.Error(t, err)

	cancel()
	<-done
}

func TestReactorFiresDumpOnDeadline(t *testing.T) {
	decoder := &countingDecoder{}
	r, addr := newTestReactor(t, 4, nil, decoder)
	r.tk = NewTimekeeper(50*time.Millisecond, time.Now().Add(-time.Hour)) // force immediately overdue
	r.pollEvery = 10 * time.Millisecond

	fired := make(chan []PeerSnapshot, 4)
	r.dump = dumpTriggerFunc(func(_ context.Context, snaps []PeerSnapshot, _ time.Time) error {
		// Catching up on an hour of 50ms boundaries fires thousands of
		// times; like dump.Scheduler, ignore ticks with nothing to dump.
		if len(snaps) == 0 {
			return nil
		}
		fired <- snaps
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); r.Run(ctx) }()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return r.table.Count() == 1 }, time.Second, 5*time.Millisecond)
	r.table.Get(0).Snapshot = append(r.table.Get(0).Snapshot, record.DumpRow{EventType: "test"})

	select {
	case snaps := <-fired:
		require.Len(t, snaps, 1)
		require.Nil(t, r.table.Get(0).Snapshot, "parent must clear the scratch list after handing off a copy")
	case <-time.After(2 * time.Second):
		t.Fatal("dump never fired")
	}

	cancel()
	<-done
}

type dumpTriggerFunc func(ctx context.Context, snapshots []PeerSnapshot, deadline time.Time) error

func (f dumpTriggerFunc) Fire(ctx context.Context, snapshots []PeerSnapshot, deadline time.Time) error {
	return f(ctx, snapshots, deadline)
}
