package telemetry

import (
	"bufio"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ACL is the ordered allow-list of source-address patterns gating accept
// (spec §3 "Allow list", §6 ACL file format). Loaded once at start-up;
// lookup is linear and never mutated on the hot path.
type ACL struct {
	nets []*net.IPNet
}

// LoadACL reads one CIDR pattern per line from path. An empty path yields
// an ACL that allows everything (spec §4.2 "default allow").
func LoadACL(path string) (*ACL, error) {
	if path == "" {
		return &ACL{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "acl: open %s", path)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "acl: read")
	}
	return LoadACLFromLines(lines)
}

// LoadACLFromLines builds an ACL from in-memory lines, one CIDR or bare
// host address per entry. Split out from LoadACL so the parsing/matching
// logic can be tested without touching the filesystem.
func LoadACLFromLines(lines []string) (*ACL, error) {
	var acl ACL
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "/") {
			// Bare address: treat as a /32 (or /128) host entry.
			if ip := net.ParseIP(line); ip != nil && ip.To4() != nil {
				line += "/32"
			} else {
				line += "/128"
			}
		}
		_, ipnet, err := net.ParseCIDR(line)
		if err != nil {
			return nil, errors.Wrapf(err, "acl: invalid pattern %q", line)
		}
		acl.nets = append(acl.nets, ipnet)
	}
	return &acl, nil
}

// Allowed reports whether ip is permitted. An ACL with no patterns allows
// everything.
func (a *ACL) Allowed(ip net.IP) bool {
	if a == nil || len(a.nets) == 0 {
		return true
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
