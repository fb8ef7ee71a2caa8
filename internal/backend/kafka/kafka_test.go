package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackendCloseWithoutConnectIsSafe(t *testing.T) {
	b := New(Config{BrokerHost: "localhost", BrokerPort: 9092, Topic: "dumps", RetryInterval: time.Second})
	require.NoError(t, b.Close(context.Background(), false))
}

func TestBackendPublishBeforeConnectIsBrokerDead(t *testing.T) {
	b := New(Config{BrokerHost: "localhost", BrokerPort: 9092, Topic: "dumps"})
	require.NoError(t, b.Init(context.Background(), ""))
	err := b.Publish(context.Background(), "", []byte(`{}`))
	require.ErrorIs(t, err, ErrBrokerDead)
}

func TestTimersGovernRetry(t *testing.T) {
	b := New(Config{RetryInterval: 10 * time.Millisecond})
	require.False(t, b.Timers().ShouldRetry(time.Now()))

	b.Timers().RecordFailure(time.Now())
	require.False(t, b.Timers().ShouldRetry(time.Now()))
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Timers().ShouldRetry(time.Now()))
}
