// Package template renders the filename/routing-key/topic templates used by
// both output channels (spec §4.6 step a: "the only recognized variable in
// the template is the peer source IP", then strftime-style substitution
// against the current timestamp).
//
// Kept as its own leaf package (no dependency on internal/telemetry or
// internal/dump) so both can import it without an import cycle.
package template

import (
	"strings"
	"time"
)

// peerVar is the only variable substitution recognized in a template
// (spec §4.6 step a).
const peerVar = "$peer_src_ip"

// Render substitutes $peer_src_ip for peerIP, then applies strftime-style
// substitutions against ts (spec §4.6 step a: "bgp_peer_log_dynname...
// then apply strftime-style substitutions").
func Render(tmpl, peerIP string, ts time.Time) string {
	withPeer := strings.ReplaceAll(tmpl, peerVar, peerIP)
	return strftime(withPeer, ts)
}

// strftime implements the small subset of strftime directives the original
// daemon relies on for dump/msglog filenames.
func strftime(s string, ts time.Time) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'Y':
			b.WriteString(ts.Format("2006"))
		case 'm':
			b.WriteString(ts.Format("01"))
		case 'd':
			b.WriteString(ts.Format("02"))
		case 'H':
			b.WriteString(ts.Format("15"))
		case 'M':
			b.WriteString(ts.Format("04"))
		case 'S':
			b.WriteString(ts.Format("05"))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
