package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pmacct-telemetry/telemetryd/internal/backend"
	"github.com/pmacct-telemetry/telemetryd/internal/backend/file"
	"github.com/pmacct-telemetry/telemetryd/internal/record"
	"github.com/pmacct-telemetry/telemetryd/internal/template"
)

// MsgLogSink is the per-event streaming output channel (spec §4.5): exactly
// one backend active system-wide, a monotone 64-bit sequence counter
// (P3).
//
// The file backend is per-peer (spec §3 "Per-peer log descriptor: a file
// handle + path template") — each peer owns its own open *file.Backend,
// stored on Peer.Log. The AMQP/Kafka backends are a single shared
// connection with a per-peer routing-key/topic rendered from a template at
// emit time.
type MsgLogSink struct {
	active       string // "file", "amqp", "kafka", or "" when disabled
	pathTemplate string // file path / routing-key / topic template
	shared       backend.Backend

	seq uint64 // atomic; sequence counter, never expected to wrap (spec §4.5)

	log *logrus.Entry
}

// NewMsgLogSink returns a sink for the given active backend kind. shared is
// the single connection used for "amqp"/"kafka"; it is nil and unused for
// "file", where each peer gets its own file.Backend via InitPeer.
func NewMsgLogSink(active, pathTemplate string, shared backend.Backend, log *logrus.Entry) *MsgLogSink {
	return &MsgLogSink{active: active, pathTemplate: pathTemplate, shared: shared, log: log.WithField("component", "msglog")}
}

// Enabled reports whether a backend is configured for this channel.
func (s *MsgLogSink) Enabled() bool { return s.active != "" }

// InitPeer opens this peer's own log file when the file backend is active
// (spec §4.2 "initializes per-peer logging (if enabled)"). No-op otherwise.
func (s *MsgLogSink) InitPeer(peer *Peer, now time.Time) error {
	if s.active != "file" {
		return nil
	}
	path := template.Render(s.pathTemplate, peer.AddrStr, now)
	fb := file.New(file.ModeAppend)
	if err := fb.Open(path, ""); err != nil {
		return errors.Wrapf(err, "msglog: open peer log for %s", peer.AddrStr)
	}
	peer.Log = fb
	return nil
}

// ClosePeer releases this peer's own log file, if any (spec §4.3 step 9
// "peer-close").
func (s *MsgLogSink) ClosePeer(peer *Peer) error {
	if fb, ok := peer.Log.(*file.Backend); ok {
		return fb.Close(context.Background(), false)
	}
	return nil
}

// Emit assigns the next sequence number and publishes one event for peer
// (spec §4.5). Errors are not fatal to the peer's lifecycle (spec §7
// "Errors in one peer never affect another"); the backend's Timers record
// the failure for the reactor's retry poll.
func (s *MsgLogSink) Emit(ctx context.Context, peer *Peer, evt record.Event) error {
	if !s.Enabled() {
		return nil
	}

	evt.Seq = atomic.AddUint64(&s.seq, 1)
	if evt.PeerAddr == "" {
		evt.PeerAddr = peer.AddrStr
		evt.PeerPort = peer.Port
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	payload, err := evt.Marshal()
	if err != nil {
		return err
	}

	var publishErr error
	switch s.active {
	case "file":
		fb, ok := peer.Log.(*file.Backend)
		if !ok {
			return errors.New("msglog: file backend active but peer has no open log")
		}
		publishErr = fb.Publish(ctx, "", payload)
	default: // amqp, kafka
		hint := template.Render(s.pathTemplate, peer.AddrStr, evt.Timestamp)
		publishErr = s.shared.Publish(ctx, hint, payload)
	}

	if publishErr != nil {
		s.log.WithError(publishErr).WithFields(logrus.Fields{
			"peer": peer.AddrStr,
			"seq":  evt.Seq,
		}).Warn("message-log publish failed")
	}
	return publishErr
}

// ReloadPeer closes and reopens peer's own log file in place, preserving
// its filename (spec §4.3 step 4, R1). No-op for peers without a file log.
func ReloadPeer(peer *Peer) error {
	if fb, ok := peer.Log.(*file.Backend); ok {
		return fb.Reload()
	}
	return nil
}

// Timers exposes the shared backend's retry governor (amqp/kafka), or nil
// when the channel is disabled or file-backed (no reconnect concept).
func (s *MsgLogSink) Timers() *backend.Timers {
	if s.shared == nil {
		return nil
	}
	return s.shared.Timers()
}

// Reinit reinitializes and reconnects the shared backend (spec §4.3 step 5:
// "if a broker recorded a failure and retry_interval has elapsed,
// reinitialize that broker").
func (s *MsgLogSink) Reinit(ctx context.Context, host string) error {
	if s.shared == nil {
		return nil
	}
	if err := s.shared.Init(ctx, host); err != nil {
		return err
	}
	return s.shared.Connect(ctx)
}
