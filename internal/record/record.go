// Package record defines the JSON envelopes emitted by the telemetry core.
package record

import (
	"encoding/json"
	"time"
)

// Event is one message-log record: a single decoded telemetry event for a
// peer, assigned a monotone sequence number by the message-log sink.
type Event struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	PeerAddr  string          `json:"peer_ip"`
	PeerPort  uint16          `json:"peer_port"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Marshal renders the event as a single JSON line (no trailing newline).
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DumpRow is one row of a periodic snapshot for a single peer.
type DumpRow struct {
	Timestamp time.Time       `json:"timestamp"`
	PeerAddr  string          `json:"peer_ip"`
	PeerPort  uint16          `json:"peer_port"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Marshal renders the dump row as a single JSON line (no trailing newline).
func (d DumpRow) Marshal() ([]byte, error) {
	return json.Marshal(d)
}
