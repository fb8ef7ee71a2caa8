package telemetry

// Decoder is the opaque external collaborator that frames raw bytes into
// events (spec §1 "the concrete telemetry wire decoding for any particular
// vendor dialect... is out of scope; the core only frames raw bytes into a
// per-peer buffer and hands them to an opaque decoder").
//
// Decode receives frame = peer.Frame(n) (spec §4.3 step 9: "buf[0..msglen]")
// and returns the number of trailing bytes that form an incomplete message,
// to be carried over ahead of the next read (spec §9 "Buffer carry-over").
type Decoder interface {
	Decode(peer *Peer, frame []byte) (truncatedLen int)
}

// NullDecoder treats every frame as fully consumed. It is the default when
// no vendor decoder is wired in, and is what the reactor's tests use.
type NullDecoder struct{}

func (NullDecoder) Decode(*Peer, []byte) int { return 0 }
