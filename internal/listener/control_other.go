//go:build !unix

package listener

import "syscall"

// controlReuseAddrAndBacklog is a no-op on platforms without the unix
// socket-option surface; Go's net package already applies sane defaults.
func controlReuseAddrAndBacklog(network, address string, c syscall.RawConn) error {
	return nil
}
