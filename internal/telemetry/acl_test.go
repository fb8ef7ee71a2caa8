package telemetry

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestACLDefaultAllowsEverything(t *testing.T) {
	acl, err := LoadACL("")
	require.NoError(t, err)
	require.True(t, acl.Allowed(net.ParseIP("192.168.1.1")))
}

func TestACLAllowsOnlyConfiguredRanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allow.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.0/8\n# comment\n\n"), 0o644))

	acl, err := LoadACL(path)
	require.NoError(t, err)

	require.True(t, acl.Allowed(net.ParseIP("10.0.0.1")))
	require.False(t, acl.Allowed(net.ParseIP("192.168.1.1"))) // S5
}

func TestACLAcceptsBareHostEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allow.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.1\n"), 0o644))

	acl, err := LoadACL(path)
	require.NoError(t, err)

	require.True(t, acl.Allowed(net.ParseIP("10.0.0.1")))
	require.False(t, acl.Allowed(net.ParseIP("10.0.0.2")))
}
