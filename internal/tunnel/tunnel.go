// Package tunnel implements the bidirectional byte splice shared by the
// SOCKS5 CONNECT command and the HTTP CONNECT method: once a handler has
// negotiated its protocol and dialed the destination, everything from
// here on is a straight copy in both directions until one side closes.
package tunnel

import (
	"io"
	"net"
	"sync"
)

// halfCloser is implemented by connections (TCP, and anything wrapping a
// TCP connection) that support signalling end-of-write without tearing
// down the read side.
type halfCloser interface {
	CloseWrite() error
}

// Stats reports how many bytes moved in each direction of a tunnel run.
type Stats struct {
	ClientToTarget int64
	TargetToClient int64
}

// Run splices client and target bidirectionally until both directions
// reach EOF or one returns an error. It always waits for both copy
// goroutines to finish before returning, and propagates half-close so a
// TCP FIN on one side of the tunnel produces a FIN on the matching side
// of the other leg instead of an abrupt reset.
func Run(client, target net.Conn) (Stats, error) {
	var stats Stats
	var firstErr error
	var errOnce sync.Once
	setErr := func(err error) {
		if err != nil && err != io.EOF {
			errOnce.Do(func() { firstErr = err })
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := io.Copy(target, client)
		stats.ClientToTarget = n
		if hc, ok := target.(halfCloser); ok {
			hc.CloseWrite()
		}
		setErr(err)
	}()

	go func() {
		defer wg.Done()
		n, err := io.Copy(client, target)
		stats.TargetToClient = n
		if hc, ok := client.(halfCloser); ok {
			hc.CloseWrite()
		}
		setErr(err)
	}()

	wg.Wait()
	return stats, firstErr
}
