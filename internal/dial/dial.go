// Package dial centralizes outbound TCP connection establishment so the
// SOCKS5 and HTTP handlers apply identical keep-alive tuning to every
// destination connection they open.
package dial

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dualproxy/dualproxy/internal/addr"
)

// KeepAlive mirrors the original's socket2 TcpKeepalive settings: a
// 5-minute idle time before the first probe, 1-minute probe interval, and
// 5 retries before the kernel gives up on a dead peer.
var KeepAlive = net.KeepAliveConfig{
	Enable:   true,
	Idle:     5 * time.Minute,
	Interval: 1 * time.Minute,
	Count:    5,
}

// Dialer opens outbound TCP connections with KeepAlive applied.
type Dialer struct {
	net.Dialer
}

// New returns a Dialer ready for use.
func New() *Dialer {
	return &Dialer{}
}

// DialAddress resolves a and connects to it, applying the tunnel's
// standard keep-alive configuration. IPv6 destinations are attempted the
// same as IPv4; this proxy does not special-case or refuse them.
func (d *Dialer) DialAddress(ctx context.Context, a addr.Address) (*net.TCPConn, error) {
	tcpAddr, err := a.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := d.DialContext(ctx, "tcp", tcpAddr.String())
	if err != nil {
		return nil, err
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected outbound connection type %T", conn)
	}

	if err := tcpConn.SetKeepAliveConfig(KeepAlive); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("set keepalive: %w", err)
	}

	return tcpConn, nil
}

// DialHostPort connects to a plain "host:port" string, used by the HTTP
// forward-proxy path where the destination is never SOCKS5-address-typed.
func (d *Dialer) DialHostPort(ctx context.Context, hostport string) (*net.TCPConn, error) {
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, err
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected outbound connection type %T", conn)
	}
	if err := tcpConn.SetKeepAliveConfig(KeepAlive); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("set keepalive: %w", err)
	}
	return tcpConn, nil
}
