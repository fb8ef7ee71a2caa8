package telemetry

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Listen opens the accept socket per spec §4.1: dual-stack by default (an
// empty ip lets the kernel bind both v4 and v6), SO_REUSEADDR so a restart
// doesn't trip TIME_WAIT, IP_TOS from ipprec when set, and an SO_RCVBUF
// probe that logs the requested vs. kernel-granted size. The listen
// backlog is the net package's default; it is not set to 1.
func Listen(ip string, port, ipprec, rcvbufTarget int, log *logrus.Entry) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", ip, port)

	var sockErr error
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			ctrlErr := c.Control(func(fd uintptr) {
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
					sockErr = errors.Wrap(err, "SO_REUSEADDR")
					return
				}
				if ipprec > 0 {
					tos := ipprec << 5
					if err := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
						log.WithError(err).Warn("IP_TOS set failed")
					}
				}
				if rcvbufTarget > 0 {
					if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, rcvbufTarget); err != nil {
						log.WithError(err).Warn("SO_RCVBUF set failed")
					} else if obtained, err := syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF); err == nil {
						log.WithFields(logrus.Fields{
							"target":   rcvbufTarget,
							"obtained": obtained,
						}).Info("SO_RCVBUF negotiated")
					}
				}
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrListenFailed, "%s: %v", addr, err)
	}

	// Go's net package does not expose a listen(2) backlog override, so
	// the original daemon's backlog=1 has no equivalent knob here.
	log.WithField("addr", addr).Info("listening")
	return ln, nil
}
