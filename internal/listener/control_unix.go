//go:build unix

package listener

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddrAndBacklog runs on the raw listening socket before
// bind. SO_REUSEADDR lets a restarted proxy bind the same address
// immediately after a crash instead of hitting EADDRINUSE for the
// TIME_WAIT interval. It sets no listen backlog; the net package passes
// the system maximum (somaxconn) to listen itself.
func controlReuseAddrAndBacklog(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
