package telemetry

import (
	"fmt"
	"net"
	"time"

	"github.com/pmacct-telemetry/telemetryd/internal/backend"
	"github.com/pmacct-telemetry/telemetryd/internal/record"
)

// recvBufSize is the fixed receive buffer carried per peer (spec §3 "a
// receive buffer with a carry-over length", §9 "Buffer carry-over").
const recvBufSize = 8192

// Peer is one occupied slot's record (spec §3 "Peer record"). Created on
// accept, destroyed on close or read error; never moved between slots.
type Peer struct {
	Conn net.Conn

	Family  string // "tcp4" or "tcp6"
	Addr    net.IP
	Port    uint16
	AddrStr string

	// buf/truncatedLen implement the carry-over discipline: reads always
	// target buf[truncatedLen:], and the decoder returns the new
	// truncatedLen (spec §4.3 step 9, §9 "Buffer carry-over").
	buf          [recvBufSize]byte
	truncatedLen int

	// Log is this peer's message-log descriptor, or nil if the msg-log
	// channel is disabled (spec §3 "Per-peer log descriptor").
	Log backend.Backend

	// Snapshot is the opaque, per-peer scratch list populated between dump
	// ticks and destroyed by the parent immediately after handing a copy
	// to the snapshot worker (spec §4.6 "parent... destroys the per-peer
	// ephemeral snapshot scratch list").
	Snapshot []record.DumpRow

	ConnectedAt time.Time

	// readDone is closed when the peer's reader goroutine has exited
	// (connection closed or errored). Reactor.closePeer blocks on it so a
	// slot is never reused while its previous reader is still running.
	readDone chan struct{}

	// ackCh is handed a value by the reactor once it has finished decoding
	// the most recently reported frame, releasing the reader goroutine to
	// issue its next blocking Read (see Reactor.readLoop).
	ackCh chan struct{}
}

// ReadTarget returns the buffer slice a recv should target, honoring the
// carried-over bytes from a previous partial frame.
func (p *Peer) ReadTarget() []byte {
	return p.buf[p.truncatedLen:]
}

// Frame returns buf[0:msglen] after a read of n bytes, where msglen
// accounts for the previously carried-over prefix (spec §4.3 step 9:
// "msglen = ret + truncated_len").
func (p *Peer) Frame(n int) []byte {
	msglen := n + p.truncatedLen
	return p.buf[:msglen]
}

// SetTruncatedLen records that the trailing n bytes of the just-decoded
// msglen-byte frame are an incomplete message, carrying them to the front of
// buf ahead of the next read (spec §4.3 step 9, §9 "Buffer carry-over").
// msglen is the length passed to Frame for this same read.
func (p *Peer) SetTruncatedLen(n, msglen int) {
	if n < 0 {
		n = 0
	}
	if n > msglen {
		n = msglen
	}
	if n > 0 {
		copy(p.buf[:n], p.buf[msglen-n:msglen])
	}
	p.truncatedLen = n
}

// PeerTable is the fixed-capacity slot array (spec §3 "Peer table"). Owned
// exclusively by the reactor goroutine; no other goroutine may read or
// write slots directly (spec §5 "Shared resources").
type PeerTable struct {
	slots []*Peer

	count            int
	maxOccupiedIndex int // -1 when no peer is occupied; else highest occupied index
	dirty            bool
}

// NewPeerTable returns a table with the given fixed capacity (spec §3
// "Fixed capacity M").
func NewPeerTable(capacity int) *PeerTable {
	return &PeerTable{
		slots:            make([]*Peer, capacity),
		maxOccupiedIndex: -1,
	}
}

func (t *PeerTable) Capacity() int { return len(t.slots) }

func (t *PeerTable) Count() int { return t.count }

// MaxOccupiedIndex returns the bound the round-robin read scan must use
// (spec §9 "Must be modulo max_occupied_index+1, not M").
func (t *PeerTable) MaxOccupiedIndex() int { return t.maxOccupiedIndex }

// Get returns the peer in slot idx, or nil if free.
func (t *PeerTable) Get(idx int) *Peer { return t.slots[idx] }

// Insert installs p in the first free slot, scanning from index 0 (spec
// §4.2 "scans the table from slot 0 for the first free slot"). Returns
// ErrTableFull if every slot is occupied (I3).
func (t *PeerTable) Insert(p *Peer) (int, error) {
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = p
			t.count++
			t.dirty = true
			return i, nil
		}
	}
	return -1, ErrTableFull
}

// Remove frees slot idx (peer close or read error, spec §4.3 step 9).
func (t *PeerTable) Remove(idx int) {
	if t.slots[idx] == nil {
		return
	}
	t.slots[idx] = nil
	t.count--
	t.dirty = true
}

// Recompute recalculates count and maxOccupiedIndex if the table is dirty,
// then clears the flag (spec §4.3 step 1, I-dirty invariant). Idempotent
// when not dirty.
func (t *PeerTable) Recompute() {
	if !t.dirty {
		return
	}
	max := -1
	count := 0
	for i, s := range t.slots {
		if s != nil {
			max = i
			count++
		}
	}
	t.maxOccupiedIndex = max
	t.count = count
	t.dirty = false
}

// Dirty reports whether a slot transitioned free<->occupied since the last
// Recompute.
func (t *PeerTable) Dirty() bool { return t.dirty }

// FormatAddr renders the "addr_str" field for a peer (spec §4.2
// "formats addr_str"), normalizing IPv4-mapped IPv6 addresses to IPv4
// (spec §4.2).
func FormatAddr(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// NewPeerFromConn builds a Peer from a freshly accepted connection,
// normalizing an IPv4-mapped IPv6 remote address to IPv4 (spec §4.2).
func NewPeerFromConn(conn net.Conn, now time.Time) *Peer {
	ta := conn.RemoteAddr().(*net.TCPAddr)
	ip := ta.IP
	family := "tcp6"
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		family = "tcp4"
	}
	return &Peer{
		Conn:        conn,
		Family:      family,
		Addr:        ip,
		Port:        uint16(ta.Port),
		AddrStr:     FormatAddr(ip),
		ConnectedAt: now,
	}
}

func (p *Peer) String() string {
	return fmt.Sprintf("%s:%d", p.AddrStr, p.Port)
}
