package dump

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pmacct-telemetry/telemetryd/internal/backend/file"
	"github.com/pmacct-telemetry/telemetryd/internal/record"
	"github.com/pmacct-telemetry/telemetryd/internal/telemetry"
	"github.com/pmacct-telemetry/telemetryd/internal/template"
)

// runWorker is the isolated per-tick snapshot writer (spec §4.6 steps
// a-d): render each peer's path/routing-key/topic from its template, then
// write every accumulated row through the configured backend.
func (s *Scheduler) runWorker(ctx context.Context, snapshots []telemetry.PeerSnapshot, deadline time.Time) {
	for _, snap := range snapshots {
		hint := template.Render(s.pathTemplate, snap.Addr, deadline)

		switch s.active {
		case "file":
			s.writeFile(ctx, snap, hint, deadline)
		default: // amqp, kafka
			s.publishShared(ctx, snap, hint)
		}
	}
}

func (s *Scheduler) writeFile(ctx context.Context, snap telemetry.PeerSnapshot, path string, deadline time.Time) {
	latest := ""
	if s.latestTemplate != "" {
		latest = template.Render(s.latestTemplate, snap.Addr, deadline)
	}

	fb := file.New(file.ModeDumpTruncate)
	if err := fb.Open(path, latest); err != nil {
		s.log.WithError(err).WithField("peer", snap.Addr).Warn("dump: open failed")
		return
	}
	defer func() {
		if err := fb.Close(ctx, false); err != nil {
			s.log.WithError(err).WithField("peer", snap.Addr).Warn("dump: close failed")
		}
	}()

	for _, row := range snap.Rows {
		s.writeRow(ctx, fb.Publish, snap.Addr, row)
	}
}

func (s *Scheduler) publishShared(ctx context.Context, snap telemetry.PeerSnapshot, hint string) {
	if s.shared == nil {
		return
	}
	publish := func(ctx context.Context, _ string, payload []byte) error {
		return s.shared.Publish(ctx, hint, payload)
	}
	for _, row := range snap.Rows {
		s.writeRow(ctx, publish, snap.Addr, row)
	}
}

func (s *Scheduler) writeRow(ctx context.Context, publish func(context.Context, string, []byte) error, peerAddr string, row record.DumpRow) {
	payload, err := row.Marshal()
	if err != nil {
		s.log.WithError(err).WithField("peer", peerAddr).Warn("dump: marshal failed")
		return
	}
	if err := publish(ctx, "", payload); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"peer": peerAddr,
		}).Warn("dump: publish failed")
	}
}
