// Package config loads and validates the telemetry daemon's configuration.
//
// Process bootstrap, signal wiring, and the surrounding multi-daemon
// supervisor are out of scope (spec §1) — this package only covers the
// typed view of the telemetry_* keys and their validation.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// OutputFormat selects the wire representation of emitted records. JSON is
// the only format implemented; the field exists because spec §6 names it as
// a recognized (if currently single-valued) configuration key.
type OutputFormat string

const (
	OutputJSON OutputFormat = "json"

	defaultPort        = 50000
	defaultMaxPeers    = 4
	defaultAMQPRetry   = 60
	defaultKafkaRetry  = 60
	defaultAMQPExchange = "pmacct"
	defaultAMQPExchangeType = "direct"
	defaultAMQPVhost   = "/"
	defaultAMQPHost    = "localhost"
)

// AMQPConfig mirrors the telemetry_msglog_amqp_* / telemetry_dump_amqp_*
// key family (spec §6).
type AMQPConfig struct {
	User             string
	Passwd           string
	Exchange         string
	ExchangeType     string
	Host             string
	Vhost            string
	RoutingKey       string
	PersistentMsg    bool
	FrameMax         int
	HeartbeatInterval int
	Retry            int
}

func (a *AMQPConfig) applyDefaults() {
	if a.Exchange == "" {
		a.Exchange = defaultAMQPExchange
	}
	if a.ExchangeType == "" {
		a.ExchangeType = defaultAMQPExchangeType
	}
	if a.Host == "" {
		a.Host = defaultAMQPHost
	}
	if a.Vhost == "" {
		a.Vhost = defaultAMQPVhost
	}
	if a.Retry == 0 {
		a.Retry = defaultAMQPRetry
	}
}

// KafkaConfig mirrors the telemetry_*_kafka_* key family (spec §6).
type KafkaConfig struct {
	BrokerHost string
	BrokerPort int
	Topic      string
	Partition  int32
	Retry      int
}

func (k *KafkaConfig) applyDefaults() {
	if k.Retry == 0 {
		k.Retry = defaultKafkaRetry
	}
}

// Channel is one of the two output channels named in spec §3: message-log
// (per-event) and dump (periodic snapshot). Exactly one backend may be
// active per channel (I4).
type Channel struct {
	File  string
	AMQP  AMQPConfig
	Kafka KafkaConfig

	Output OutputFormat
}

// backendCount returns how many of {file, amqp, kafka} are configured for
// this channel. Spec §9's Open Question ("duplicated increment" bug) is
// resolved here as exactly one increment per active backend.
func (c Channel) backendCount() int {
	n := 0
	if c.File != "" {
		n++
	}
	if c.AMQP.RoutingKey != "" {
		n++
	}
	if c.Kafka.Topic != "" {
		n++
	}
	return n
}

// Active reports which single backend is selected, or "" if none.
func (c Channel) Active() string {
	switch {
	case c.File != "":
		return "file"
	case c.AMQP.RoutingKey != "":
		return "amqp"
	case c.Kafka.Topic != "":
		return "kafka"
	default:
		return ""
	}
}

// Config is the typed view of every telemetry_* key in spec §6.
type Config struct {
	IP        string
	Port      int
	MaxPeers  int
	IPPrec    int
	PipeSize  int
	AllowFile string

	MsgLog Channel
	Dump   Channel

	DumpRefreshTime int
	DumpLatestFile  string
}

// Load reads configuration from v (already pointed at a file, env, or
// defaults by the caller) and returns a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		IP:        v.GetString("telemetry_ip"),
		Port:      v.GetInt("telemetry_port"),
		MaxPeers:  v.GetInt("telemetry_max_peers"),
		IPPrec:    v.GetInt("telemetry_ipprec"),
		PipeSize:  v.GetInt("telemetry_pipe_size"),
		AllowFile: v.GetString("telemetry_allow_file"),

		MsgLog: Channel{
			File: v.GetString("telemetry_msglog_file"),
			AMQP: AMQPConfig{
				User:              v.GetString("telemetry_msglog_amqp_user"),
				Passwd:            v.GetString("telemetry_msglog_amqp_passwd"),
				Exchange:          v.GetString("telemetry_msglog_amqp_exchange"),
				ExchangeType:      v.GetString("telemetry_msglog_amqp_exchange_type"),
				Host:              v.GetString("telemetry_msglog_amqp_host"),
				Vhost:             v.GetString("telemetry_msglog_amqp_vhost"),
				RoutingKey:        v.GetString("telemetry_msglog_amqp_routing_key"),
				PersistentMsg:     v.GetBool("telemetry_msglog_amqp_persistent_msg"),
				FrameMax:          v.GetInt("telemetry_msglog_amqp_frame_max"),
				HeartbeatInterval: v.GetInt("telemetry_msglog_amqp_heartbeat_interval"),
				Retry:             v.GetInt("telemetry_msglog_amqp_retry"),
			},
			Kafka: KafkaConfig{
				BrokerHost: v.GetString("telemetry_msglog_kafka_broker_host"),
				BrokerPort: v.GetInt("telemetry_msglog_kafka_broker_port"),
				Topic:      v.GetString("telemetry_msglog_kafka_topic"),
				Partition:  int32(v.GetInt("telemetry_msglog_kafka_partition")),
				Retry:      v.GetInt("telemetry_msglog_kafka_retry"),
			},
			Output: outputFormat(v.GetString("telemetry_msglog_output")),
		},

		Dump: Channel{
			File: v.GetString("telemetry_dump_file"),
			AMQP: AMQPConfig{
				User:              v.GetString("telemetry_dump_amqp_user"),
				Passwd:            v.GetString("telemetry_dump_amqp_passwd"),
				Exchange:          v.GetString("telemetry_dump_amqp_exchange"),
				ExchangeType:      v.GetString("telemetry_dump_amqp_exchange_type"),
				Host:              v.GetString("telemetry_dump_amqp_host"),
				Vhost:             v.GetString("telemetry_dump_amqp_vhost"),
				RoutingKey:        v.GetString("telemetry_dump_amqp_routing_key"),
				PersistentMsg:     v.GetBool("telemetry_dump_amqp_persistent_msg"),
				FrameMax:          v.GetInt("telemetry_dump_amqp_frame_max"),
				HeartbeatInterval: v.GetInt("telemetry_dump_amqp_heartbeat_interval"),
			},
			Kafka: KafkaConfig{
				BrokerHost: v.GetString("telemetry_dump_kafka_broker_host"),
				BrokerPort: v.GetInt("telemetry_dump_kafka_broker_port"),
				Topic:      v.GetString("telemetry_dump_kafka_topic"),
				Partition:  int32(v.GetInt("telemetry_dump_kafka_partition")),
			},
			Output: outputFormat(v.GetString("telemetry_dump_output")),
		},

		DumpRefreshTime: v.GetInt("telemetry_dump_refresh_time"),
		DumpLatestFile:  v.GetString("telemetry_dump_latest_file"),
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func outputFormat(s string) OutputFormat {
	if s == "" {
		return OutputJSON
	}
	return OutputFormat(strings.ToLower(s))
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.MaxPeers == 0 {
		c.MaxPeers = defaultMaxPeers
	}
	if c.IPPrec < 0 || c.IPPrec > 7 {
		return errors.Wrapf(ErrInvalidIPPrec, "telemetry_ipprec=%d", c.IPPrec)
	}

	if c.MsgLog.backendCount() > 1 {
		return errors.Wrap(ErrConflictingBackends, "msglog channel")
	}
	if c.Dump.backendCount() > 1 {
		return errors.Wrap(ErrConflictingBackends, "dump channel")
	}

	if c.MsgLog.Active() != "" {
		if c.MsgLog.Output == "" {
			c.MsgLog.Output = OutputJSON
		}
		c.MsgLog.AMQP.applyDefaults()
		c.MsgLog.Kafka.applyDefaults()
	}

	if c.Dump.Active() != "" {
		if c.DumpRefreshTime <= 0 {
			// A dump backend with no refresh period disables dumps
			// entirely rather than fork/tick on every loop turn.
			c.Dump = Channel{}
			return nil
		}
		if c.Dump.Output == "" {
			c.Dump.Output = OutputJSON
		}
		c.Dump.AMQP.applyDefaults()
		c.Dump.Kafka.applyDefaults()
	}

	return nil
}
