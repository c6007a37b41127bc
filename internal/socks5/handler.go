package socks5

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/dualproxy/dualproxy/internal/addr"
	"github.com/dualproxy/dualproxy/internal/dial"
	"github.com/dualproxy/dualproxy/internal/logging"
	"github.com/dualproxy/dualproxy/internal/tunnel"
)

// Outbound opens the destination connection for a CONNECT request. It is
// an interface so tests can substitute a fake without a real network.
type Outbound interface {
	DialAddress(ctx context.Context, a addr.Address) (net.Conn, error)
}

type defaultOutbound struct {
	d *dial.Dialer
}

func (o defaultOutbound) DialAddress(ctx context.Context, a addr.Address) (net.Conn, error) {
	return o.d.DialAddress(ctx, a)
}

// Handler drives the SOCKS5 state machine for one accepted connection:
// handshake, method selection, relay request, dial, and tunnel.
type Handler struct {
	outbound Outbound
	logger   *slog.Logger
}

// NewHandler builds a Handler. A nil outbound uses direct TCP dialing; a
// nil logger discards everything.
func NewHandler(outbound Outbound, logger *slog.Logger) *Handler {
	if outbound == nil {
		outbound = defaultOutbound{d: dial.New()}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Handler{outbound: outbound, logger: logger}
}

// Handle runs the full SOCKS5 exchange on conn. It returns once the
// tunnel closes or a protocol error ends the connection early; the
// caller is responsible for closing conn.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) error {
	if err := h.handshake(conn); err != nil {
		return err
	}

	req, err := ReadRelayRequest(conn)
	if err != nil {
		return fmt.Errorf("read relay request: %w", err)
	}

	if req.Command != CmdConnect {
		werr := &ErrUnsupportedCommand{Command: req.Command}
		h.writeRelayError(conn, werr)
		return werr
	}

	return h.handleConnect(ctx, conn, req.Destination)
}

// handshake reads the client's offered methods and replies with the
// selected one, or with the no-acceptable-method sentinel.
func (h *Handler) handshake(conn net.Conn) error {
	hsReq, err := ReadHandshakeRequest(conn)
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	method, ok := SelectAuthMethod(hsReq.Methods)
	if !ok {
		resp := NewHandshakeResponseBuilder().WithNoAcceptableMethod().Build()
		_ = resp.WriteTo(conn)
		return ErrNoAcceptableAuthMethod
	}

	resp := NewHandshakeResponseBuilder().WithMethod(method).Build()
	if err := resp.WriteTo(conn); err != nil {
		return fmt.Errorf("write handshake response: %w", err)
	}
	return nil
}

func (h *Handler) handleConnect(ctx context.Context, conn net.Conn, dest addr.Address) error {
	target, err := h.outbound.DialAddress(ctx, dest)
	if err != nil {
		h.writeRelayError(conn, err)
		return fmt.Errorf("dial %s: %w", dest, err)
	}
	defer target.Close()

	builder := NewRelayResponseBuilder().WithSuccess()
	if tcpLocal, ok := target.LocalAddr().(*net.TCPAddr); ok {
		builder = builder.WithBoundAddress(addr.FromTCPAddr(tcpLocal))
	}
	resp := builder.Build()
	if err := resp.WriteTo(conn); err != nil {
		return fmt.Errorf("write relay response: %w", err)
	}

	stats, err := tunnel.Run(conn, target)
	h.logger.Debug("socks5 tunnel closed",
		logging.KeyRemoteAddr, conn.RemoteAddr(),
		"destination", dest.String(),
		"bytes_in", stats.ClientToTarget,
		"bytes_out", stats.TargetToClient,
		logging.KeyError, err,
	)
	return err
}

func (h *Handler) writeRelayError(conn net.Conn, err error) {
	resp := NewRelayResponseBuilder().WithReply(ReplyFor(err)).Build()
	_ = resp.WriteTo(conn)
}
