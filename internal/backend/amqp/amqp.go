// Package amqp implements the AMQP output backend (spec §4.7), publishing
// to a configured exchange/routing-key with JSON content type.
//
// Grounded on rabbitmq/amqp091-go, paired with franz-go/kgo in the same
// module by _examples/other_examples/manifests/smilad-Event-MUX/go.mod.
package amqp

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pmacct-telemetry/telemetryd/internal/backend"
)

// Config mirrors the telemetry_*_amqp_* key family (spec §6).
type Config struct {
	User              string
	Passwd            string
	Exchange          string
	ExchangeType      string
	Host              string
	Vhost             string
	RoutingKey        string
	PersistentMsg     bool
	FrameMax          int
	HeartbeatInterval time.Duration
	RetryInterval     time.Duration
}

// Backend is the AMQP output backend.
type Backend struct {
	cfg Config

	conn *amqp.Connection
	ch   *amqp.Channel

	timers *backend.Timers
}

// New returns an AMQP Backend governed by cfg.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg, timers: backend.NewTimers(cfg.RetryInterval)}
}

func (b *Backend) Init(_ context.Context, host string) error {
	if host != "" {
		b.cfg.Host = host
	}
	return nil
}

// Connect dials the broker, opens a channel, and declares the exchange. On
// failure it records last_fail (spec §4.7, honored by the reactor's retry
// poll).
func (b *Backend) Connect(_ context.Context) error {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     b.cfg.Host,
		Username: b.cfg.User,
		Password: b.cfg.Passwd,
		Vhost:    b.cfg.Vhost,
	}.String()

	cfg := amqp.Config{
		Heartbeat: b.cfg.HeartbeatInterval,
	}
	if b.cfg.FrameMax > 0 {
		cfg.FrameSize = b.cfg.FrameMax
	}

	conn, err := amqp.DialConfig(uri, cfg)
	if err != nil {
		b.timers.RecordFailure(time.Now())
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		b.timers.RecordFailure(time.Now())
		return err
	}

	if err := ch.ExchangeDeclare(
		b.cfg.Exchange, b.cfg.ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		b.timers.RecordFailure(time.Now())
		return err
	}

	b.conn = conn
	b.ch = ch
	b.timers.ClearFailure()
	return nil
}

// Publish sends one JSON record to the configured exchange, using
// routingHint if set or the configured default routing key otherwise.
func (b *Backend) Publish(ctx context.Context, routingHint string, payload []byte) error {
	if b.ch == nil {
		// Never connected, or Connect failed (which already recorded
		// last_fail).
		return amqp.ErrClosed
	}

	key := b.cfg.RoutingKey
	if routingHint != "" {
		key = routingHint
	}

	deliveryMode := amqp.Transient
	if b.cfg.PersistentMsg {
		deliveryMode = amqp.Persistent
	}

	err := b.ch.PublishWithContext(ctx, b.cfg.Exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		b.timers.RecordFailure(time.Now())
	}
	return err
}

// Close tears down the channel and connection; both are always closed.
// force only changes the returned error: without force a channel-close
// error is returned, with force only the connection-close error is.
func (b *Backend) Close(_ context.Context, force bool) error {
	var chErr, connErr error
	if b.ch != nil {
		chErr = b.ch.Close()
	}
	if b.conn != nil {
		connErr = b.conn.Close()
	}
	if !force && chErr != nil {
		return chErr
	}
	return connErr
}

func (b *Backend) Timers() *backend.Timers { return b.timers }

var _ backend.Backend = (*Backend)(nil)
