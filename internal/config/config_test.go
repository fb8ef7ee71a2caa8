package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newViper(kv map[string]interface{}) *viper.Viper {
	v := viper.New()
	for k, val := range kv {
		v.Set(k, val)
	}
	return v
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(newViper(nil))
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, defaultMaxPeers, cfg.MaxPeers)
	require.Equal(t, "", cfg.MsgLog.Active())
	require.Equal(t, "", cfg.Dump.Active())
}

func TestLoadRejectsConflictingMsgLogBackends(t *testing.T) {
	_, err := Load(newViper(map[string]interface{}{
		"telemetry_msglog_file":        "/tmp/a.log",
		"telemetry_msglog_kafka_topic": "t",
	}))
	require.ErrorIs(t, err, ErrConflictingBackends)
}

func TestLoadRejectsConflictingDumpBackends(t *testing.T) {
	_, err := Load(newViper(map[string]interface{}{
		"telemetry_dump_file":              "/tmp/dump-$peer_src_ip",
		"telemetry_dump_amqp_routing_key":  "dumps",
		"telemetry_dump_refresh_time":      60,
	}))
	require.ErrorIs(t, err, ErrConflictingBackends)
}

func TestLoadDisablesDumpWithoutRefreshTime(t *testing.T) {
	cfg, err := Load(newViper(map[string]interface{}{
		"telemetry_dump_file": "/tmp/dump-$peer_src_ip",
	}))
	require.NoError(t, err)
	require.Equal(t, "", cfg.Dump.Active())
}

func TestLoadAcceptsSingleMsgLogBackend(t *testing.T) {
	cfg, err := Load(newViper(map[string]interface{}{
		"telemetry_msglog_file": "/tmp/a.log",
	}))
	require.NoError(t, err)
	require.Equal(t, "file", cfg.MsgLog.Active())
	require.Equal(t, OutputJSON, cfg.MsgLog.Output)
}

func TestLoadRejectsInvalidIPPrec(t *testing.T) {
	_, err := Load(newViper(map[string]interface{}{
		"telemetry_ipprec": 9,
	}))
	require.ErrorIs(t, err, ErrInvalidIPPrec)
}
