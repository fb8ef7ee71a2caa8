package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pmacct-telemetry/telemetryd/internal/config"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return logrus.NewEntry(l)
}

// TestServerAcceptsAndLogsWithFileBackend is an end-to-end smoke test: a
// real listener, a real accepted connection, a real per-peer log file
// created through the full config -> daemon -> reactor -> msglog chain, with no
// network backend involved.
func TestServerAcceptsAndLogsWithFileBackend(t *testing.T) {
	dir := t.TempDir()

	cfg := &config.Config{
		IP:       "127.0.0.1",
		Port:     0,
		MaxPeers: 2,
		MsgLog: config.Channel{
			File: filepath.Join(dir, "$peer_src_ip.log"),
		},
	}

	srv, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	addr := srv.reactor.Addr()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	wantFile := filepath.Join(dir, host+".log")

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(wantFile)
		return statErr == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server never shut down")
	}
}

func TestNewRejectsUnparsableListenAddress(t *testing.T) {
	cfg := &config.Config{IP: "not-an-ip-or-host-with-bad-chars:::", Port: 0, MaxPeers: 1}
	_, err := New(context.Background(), cfg, testLogger())
	require.Error(t, err)
}
