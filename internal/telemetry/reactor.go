package telemetry

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pmacct-telemetry/telemetryd/internal/record"
)

// readSignal is one reader goroutine's report of a completed (or failed)
// blocking Read, carried over Reactor.sigCh (spec §9 "goroutine-per-peer
// blocking reads reporting to a central channel", replacing the original's
// select()/FD_SET multiplexing — see spec §9's own note that OS-specific
// readiness primitives may be replaced on targets that lack them).
type readSignal struct {
	slot int
	n    int
	err  error
}

// PeerSnapshot is one peer's copy of its accumulated dump rows, handed to
// the DumpTrigger after the reactor clears the peer's live scratch list
// (spec §4.6 "the parent... destroys the per-peer ephemeral snapshot
// scratch list" immediately after handing a copy to the worker).
type PeerSnapshot struct {
	Addr string
	Port uint16
	Rows []record.DumpRow
}

// DumpTrigger is implemented by the dump subsystem. It is declared here,
// not imported, so that internal/dump (which needs PeerSnapshot) can
// depend on internal/telemetry without a cycle back the other way.
type DumpTrigger interface {
	Fire(ctx context.Context, snapshots []PeerSnapshot, deadline time.Time) error
}

// Reactor is the single event loop that owns the peer table and interest
// set exclusively (spec §5 "Shared resources... owned exclusively by the
// reactor thread"). All accept, read-dispatch, reload, dump-deadline, and
// broker-retry decisions are made on this one goroutine; everything else
// only ever talks to it through channels.
type Reactor struct {
	listener net.Listener
	table    *PeerTable
	acl      *ACL
	decoder  Decoder
	msglog   *MsgLogSink
	tk       *Timekeeper
	dump     DumpTrigger

	msglogHost string
	pollEvery  time.Duration

	acceptCh chan net.Conn
	sigCh    chan readSignal
	reloadCh chan struct{}

	pending map[int]bool
	pendLen map[int]int
	rr      int

	log *logrus.Entry
}

// NewReactor builds a Reactor bound to listener. dump may be nil when the
// dump channel is disabled (B3); msglogHost is the broker host/addr passed
// to MsgLogSink.Reinit on a retry-due poll (spec §4.3 step 5).
func NewReactor(listener net.Listener, table *PeerTable, acl *ACL, decoder Decoder, msglog *MsgLogSink, tk *Timekeeper, dump DumpTrigger, msglogHost string, log *logrus.Entry) *Reactor {
	if decoder == nil {
		decoder = NullDecoder{}
	}
	return &Reactor{
		listener:   listener,
		table:      table,
		acl:        acl,
		decoder:    decoder,
		msglog:     msglog,
		tk:         tk,
		dump:       dump,
		msglogHost: msglogHost,
		pollEvery:  time.Second,
		acceptCh:   make(chan net.Conn, 1),
		sigCh:      make(chan readSignal, table.Capacity()),
		reloadCh:   make(chan struct{}, 1),
		pending:    make(map[int]bool),
		pendLen:    make(map[int]int),
		log:        log.WithField("component", "reactor"),
	}
}

// Addr returns the reactor's bound listen address, mainly useful in tests
// that bind to an ephemeral port.
func (r *Reactor) Addr() net.Addr { return r.listener.Addr() }

// Reload requests that every live peer's per-peer log descriptor be closed
// and reopened in place (spec §4.3 step 4, R1). Safe to call from any
// goroutine (e.g. a SIGHUP handler in cmd/telemetryd).
func (r *Reactor) Reload() {
	select {
	case r.reloadCh <- struct{}{}:
	default:
	}
}

// Run drives the event loop until ctx is cancelled, then returns nil. It
// never returns an error for a single peer's failure (spec §7 "Errors in one
// peer never affect another"); only context cancellation ends Run. An Accept
// error stops acceptLoop, so no further peers are accepted, but Run keeps
// serving the peers already connected.
func (r *Reactor) Run(ctx context.Context) error {
	go r.acceptLoop(ctx)

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil

		case conn := <-r.acceptCh:
			r.handleAccept(conn)

		case sig := <-r.sigCh:
			r.handleSignal(sig)
			r.drainSignalsNonBlocking()
			r.serviceReadable()

		case <-r.reloadCh:
			r.handleReload()

		case now := <-ticker.C:
			r.handlePoll(ctx, now)
		}
	}
}

// acceptLoop runs Accept in its own goroutine since net.Listener.Accept has
// no context support; closing the listener (on shutdown) is what unblocks
// it.
func (r *Reactor) acceptLoop(ctx context.Context) {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				r.log.WithError(err).Warn("accept failed")
				return
			}
		}
		select {
		case r.acceptCh <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (r *Reactor) handleAccept(conn net.Conn) {
	now := time.Now()
	peer := NewPeerFromConn(conn, now)

	if !r.acl.Allowed(peer.Addr) {
		r.log.WithField("peer", peer.AddrStr).Info("rejected by allow list")
		conn.Close()
		return
	}

	slot, err := r.table.Insert(peer)
	if err != nil {
		// B1/S2: table full closes the connection immediately, never
		// queues or blocks the accept path.
		r.log.WithField("peer", peer.AddrStr).Warn("peer table full, closing immediately")
		conn.Close()
		return
	}

	if err := r.msglog.InitPeer(peer, now); err != nil {
		r.log.WithError(err).WithField("peer", peer.AddrStr).Warn("per-peer log init failed")
	}

	peer.readDone = make(chan struct{})
	r.log.WithFields(logrus.Fields{"peer": peer.AddrStr, "slot": slot}).Info("peer connected")
	go r.readLoop(slot, peer)
}

// readLoop is the goroutine-per-peer blocking reader. It reports every
// completed read over sigCh, then waits for the reactor's ack before
// issuing the next Read — this keeps exactly one frame of peer.buf live at
// a time without a mutex, since only one of {reader, reactor} ever touches
// the buffer at once.
func (r *Reactor) readLoop(slot int, p *Peer) {
	ack := make(chan struct{})
	p.ackCh = ack
	defer close(p.readDone)

	for {
		n, err := p.Conn.Read(p.ReadTarget())
		r.sigCh <- readSignal{slot: slot, n: n, err: err}
		if err != nil {
			return
		}
		<-ack
	}
}

func (r *Reactor) handleSignal(sig readSignal) {
	peer := r.table.Get(sig.slot)
	if peer == nil {
		return // already removed (e.g. racing close)
	}
	if sig.err != nil {
		r.closePeer(sig.slot, sig.err)
		return
	}
	r.pending[sig.slot] = true
	r.pendLen[sig.slot] = sig.n
}

// drainSignalsNonBlocking collects every signal already queued on sigCh
// without blocking, mirroring select()'s "all ready fds in one pass"
// semantics before the round-robin scan runs.
func (r *Reactor) drainSignalsNonBlocking() {
	for {
		select {
		case sig := <-r.sigCh:
			r.handleSignal(sig)
		default:
			return
		}
	}
}

// serviceReadable drains the pending set in round-robin order (spec §4.3
// step 8, B4), decoding one frame per peer per pass and acking its reader
// to unblock the next read.
func (r *Reactor) serviceReadable() {
	for {
		r.table.Recompute()
		slot, nextRR, ok := nextReadable(r.pending, r.table.MaxOccupiedIndex(), r.rr)
		if !ok {
			return
		}
		r.rr = nextRR
		r.serviceSlot(slot)
	}
}

func (r *Reactor) serviceSlot(slot int) {
	delete(r.pending, slot)
	n := r.pendLen[slot]
	delete(r.pendLen, slot)

	peer := r.table.Get(slot)
	if peer == nil {
		return
	}

	msglen := n + peer.truncatedLen
	frame := peer.Frame(n)
	truncated := r.decoder.Decode(peer, frame)
	peer.SetTruncatedLen(truncated, msglen)

	if peer.ackCh != nil {
		peer.ackCh <- struct{}{}
	}
}

func (r *Reactor) closePeer(slot int, cause error) {
	peer := r.table.Get(slot)
	if peer == nil {
		return
	}
	delete(r.pending, slot)
	delete(r.pendLen, slot)

	if err := r.msglog.ClosePeer(peer); err != nil {
		r.log.WithError(err).WithField("peer", peer.AddrStr).Warn("per-peer log close failed")
	}
	peer.Conn.Close()
	r.table.Remove(slot)

	// Release a reader goroutine that might be parked waiting for an ack
	// it will now never receive (e.g. a shutdown-triggered close). closePeer
	// only ever runs on the single reactor goroutine and only once per
	// peer (table.Get returns nil on any second attempt), so this close
	// cannot race or double-close.
	if peer.ackCh != nil {
		close(peer.ackCh)
	}

	// Wait for the reader goroutine to actually exit before considering the
	// slot free, so a fast re-accept into the same slot can never race with
	// this peer's last blocking Read. sigCh has room for one signal per
	// live peer, so the goroutine's final send (if any) can't block on us.
	if peer.readDone != nil {
		<-peer.readDone
	}

	fields := logrus.Fields{"peer": peer.AddrStr, "slot": slot}
	if cause != nil {
		r.log.WithError(cause).WithFields(fields).Info("peer closed")
	} else {
		r.log.WithFields(fields).Info("peer closed")
	}
}

// handleReload implements spec §4.3 step 4: reopen every live peer's
// per-peer log descriptor in place, preserving filenames (R1).
func (r *Reactor) handleReload() {
	r.table.Recompute()
	for i := 0; i <= r.table.MaxOccupiedIndex(); i++ {
		peer := r.table.Get(i)
		if peer == nil {
			continue
		}
		if err := ReloadPeer(peer); err != nil {
			r.log.WithError(err).WithField("peer", peer.AddrStr).Warn("reload failed")
		}
	}
	r.log.Info("reload complete")
}

// handlePoll implements spec §4.3 steps 4-5: fire any dump deadlines that
// have elapsed (one dump per crossed boundary, P4), and reinitialize the
// message-log backend if it recorded a failure and its retry interval has
// elapsed (R2).
func (r *Reactor) handlePoll(ctx context.Context, now time.Time) {
	for r.tk.Due(now) {
		r.fireDump(ctx, r.tk.Deadline())
		r.tk.Advance()
	}

	timers := r.msglog.Timers()
	if timers != nil && timers.ShouldRetry(now) {
		if err := r.msglog.Reinit(ctx, r.msglogHost); err != nil {
			r.log.WithError(err).Warn("msglog backend reinit failed")
		} else {
			timers.ClearFailure()
			r.log.Info("msglog backend reconnected")
		}
	}
}

func (r *Reactor) fireDump(ctx context.Context, deadline time.Time) {
	if r.dump == nil {
		return
	}
	r.table.Recompute()

	var snapshots []PeerSnapshot
	for i := 0; i <= r.table.MaxOccupiedIndex(); i++ {
		peer := r.table.Get(i)
		if peer == nil || len(peer.Snapshot) == 0 {
			continue
		}
		snapshots = append(snapshots, PeerSnapshot{
			Addr: peer.AddrStr,
			Port: peer.Port,
			Rows: peer.Snapshot,
		})
		peer.Snapshot = nil // spec §4.6: parent destroys the scratch list immediately
	}

	if err := r.dump.Fire(ctx, snapshots, deadline); err != nil {
		r.log.WithError(err).Warn("dump fire failed")
	}
}

func (r *Reactor) shutdown() {
	r.listener.Close()
	r.table.Recompute()
	for i := 0; i <= r.table.MaxOccupiedIndex(); i++ {
		if peer := r.table.Get(i); peer != nil {
			r.closePeer(i, nil)
		}
	}
}
