// Package daemon wires configuration, backends, the peer-table reactor,
// and the dump scheduler into the single owning Server value (spec §9
// "a single owning `Server`/`Context` value... rather than scattered
// globals").
//
// It sits above internal/telemetry and internal/dump so it alone may
// import both: internal/dump already imports internal/telemetry for
// PeerSnapshot/DumpTrigger, so neither of those two packages can import
// the other, and the wiring that needs both lives here instead of in
// internal/telemetry/server.go as originally sketched.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pmacct-telemetry/telemetryd/internal/backend"
	"github.com/pmacct-telemetry/telemetryd/internal/backend/amqp"
	"github.com/pmacct-telemetry/telemetryd/internal/backend/kafka"
	"github.com/pmacct-telemetry/telemetryd/internal/config"
	"github.com/pmacct-telemetry/telemetryd/internal/dump"
	"github.com/pmacct-telemetry/telemetryd/internal/telemetry"
)

// Server is the process's single owning value: the listener, peer table,
// both output channels, and the reactor that ties them together.
type Server struct {
	reactor  *telemetry.Reactor
	backends []backend.Backend // shared amqp/kafka connections, closed on shutdown
	log      *logrus.Entry
}

// New builds a Server from a validated Config. It opens the listener and
// performs a best-effort initial connect for any configured amqp/kafka
// backend; a failed initial connect is logged, not fatal. The reactor's
// retry poll (spec §4.3 step 5, R2) reconnects only the message-log
// backend; a dump backend whose initial connect failed is not reconnected.
func New(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Server, error) {
	ln, err := telemetry.Listen(cfg.IP, cfg.Port, cfg.IPPrec, cfg.PipeSize, log)
	if err != nil {
		return nil, err
	}

	acl, err := telemetry.LoadACL(cfg.AllowFile)
	if err != nil {
		ln.Close()
		return nil, err
	}

	table := telemetry.NewPeerTable(cfg.MaxPeers)

	msglogBackend, msglogHost, msglogPath, err := buildBackend(ctx, cfg.MsgLog, log)
	if err != nil {
		ln.Close()
		return nil, err
	}
	msglog := telemetry.NewMsgLogSink(cfg.MsgLog.Active(), msglogPath, msglogBackend, log)

	var shared []backend.Backend
	if msglogBackend != nil {
		shared = append(shared, msglogBackend)
	}

	var dumpTrigger telemetry.DumpTrigger
	if cfg.Dump.Active() != "" {
		dumpBackend, _, dumpPath, err := buildBackend(ctx, cfg.Dump, log)
		if err != nil {
			ln.Close()
			return nil, err
		}
		dumpTrigger = dump.NewScheduler(cfg.Dump.Active(), dumpPath, cfg.DumpLatestFile, dumpBackend, log)
		if dumpBackend != nil {
			shared = append(shared, dumpBackend)
		}
	}

	tk := telemetry.NewTimekeeper(time.Duration(cfg.DumpRefreshTime)*time.Second, time.Now())
	reactor := telemetry.NewReactor(ln, table, acl, telemetry.NullDecoder{}, msglog, tk, dumpTrigger, msglogHost, log)

	return &Server{reactor: reactor, backends: shared, log: log.WithField("component", "daemon")}, nil
}

// Run drives the reactor loop until ctx is cancelled, then tears down any
// shared amqp/kafka backend connections.
func (s *Server) Run(ctx context.Context) error {
	err := s.reactor.Run(ctx)
	for _, b := range s.backends {
		if closeErr := b.Close(context.Background(), true); closeErr != nil {
			s.log.WithError(closeErr).Warn("backend close failed")
		}
	}
	return err
}

// Reload requests a reopen of every live peer's per-peer log descriptor
// (spec §4.3 step 4, R1), typically wired to SIGHUP.
func (s *Server) Reload() {
	s.reactor.Reload()
}

// buildBackend resolves one channel's active backend into a backend.Backend
// (nil for "file", since both MsgLogSink and dump.Scheduler open one file
// per peer themselves), the host string Reinit should use on a retry, and
// the path/routing-key/topic template for that channel.
func buildBackend(ctx context.Context, ch config.Channel, log *logrus.Entry) (backend.Backend, string, string, error) {
	switch ch.Active() {
	case "":
		return nil, "", "", nil

	case "file":
		return nil, "", ch.File, nil

	case "amqp":
		b := amqp.New(amqp.Config{
			User:              ch.AMQP.User,
			Passwd:            ch.AMQP.Passwd,
			Exchange:          ch.AMQP.Exchange,
			ExchangeType:      ch.AMQP.ExchangeType,
			Host:              ch.AMQP.Host,
			Vhost:             ch.AMQP.Vhost,
			RoutingKey:        ch.AMQP.RoutingKey,
			PersistentMsg:     ch.AMQP.PersistentMsg,
			FrameMax:          ch.AMQP.FrameMax,
			HeartbeatInterval: time.Duration(ch.AMQP.HeartbeatInterval) * time.Second,
			RetryInterval:     time.Duration(ch.AMQP.Retry) * time.Second,
		})
		if err := b.Init(ctx, ch.AMQP.Host); err != nil {
			return nil, "", "", err
		}
		if err := b.Connect(ctx); err != nil {
			log.WithError(err).WithField("host", ch.AMQP.Host).Warn("amqp: initial connect failed, will retry")
		}
		return b, ch.AMQP.Host, ch.AMQP.RoutingKey, nil

	case "kafka":
		b := kafka.New(kafka.Config{
			BrokerHost:    ch.Kafka.BrokerHost,
			BrokerPort:    ch.Kafka.BrokerPort,
			Topic:         ch.Kafka.Topic,
			Partition:     ch.Kafka.Partition,
			RetryInterval: time.Duration(ch.Kafka.Retry) * time.Second,
		})
		host := fmt.Sprintf("%s:%d", ch.Kafka.BrokerHost, ch.Kafka.BrokerPort)
		if err := b.Init(ctx, ""); err != nil {
			return nil, "", "", err
		}
		if err := b.Connect(ctx); err != nil {
			log.WithError(err).WithField("host", host).Warn("kafka: initial connect failed, will retry")
		}
		// kafka.Backend.Init joins the host with BrokerPort itself, so the
		// retry host is the bare broker host, not host:port.
		return b, ch.Kafka.BrokerHost, ch.Kafka.Topic, nil

	default:
		return nil, "", "", fmt.Errorf("daemon: unknown backend kind %q", ch.Active())
	}
}
