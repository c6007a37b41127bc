// Package httpproxy implements the HTTP CONNECT tunnel and HTTP/1.1
// forward-proxy paths of the dual-protocol listener.
package httpproxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dualproxy/dualproxy/internal/dial"
	"github.com/dualproxy/dualproxy/internal/logging"
	"github.com/dualproxy/dualproxy/internal/tunnel"
)

// Handler serves one demultiplexed HTTP/HTTPS connection: it runs a
// standard HTTP/1.1 server loop over the connection, hijacking it on
// CONNECT and forwarding (dial + relay response) for everything else.
type Handler struct {
	dialer *dial.Dialer
	logger *slog.Logger
	server *http.Server
}

// NewHandler builds a Handler. A nil logger discards all output.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	h := &Handler{dialer: dial.New(), logger: logger}
	h.server = &http.Server{
		Handler:           http.HandlerFunc(h.serveHTTP),
		ReadHeaderTimeout: 30 * time.Second,
	}
	return h
}

// Handle runs the HTTP/1.1 server loop over conn until the client
// disconnects.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) error {
	ln := newSingleConnListener(conn)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	err := h.server.Serve(ln)
	if err == http.ErrServerClosed || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.handleConnect(w, r)
		return
	}
	h.handleForward(w, r)
}

// extractHostPort pulls the destination host:port out of a request,
// defaulting the port when the host carries none. Per spec, failure to
// extract a destination at all (no authority, no Host header) is a
// client error, not a dial failure.
func extractHostPort(r *http.Request, defaultPort string) (string, bool) {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if host == "" {
		return "", false
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, defaultPort)
	}
	return host, true
}

// handleConnect dials the requested authority, hijacks the client
// connection, confirms with "200 Connection Established", and splices
// the two sockets until either side closes.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	hostport, ok := extractHostPort(r, "443")
	if !ok {
		http.Error(w, "CONNECT request has no destination host", http.StatusBadRequest)
		return
	}

	target, err := h.dialer.DialHostPort(r.Context(), hostport)
	if err != nil {
		http.Error(w, "failed to dial destination", http.StatusInternalServerError)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		target.Close()
		http.Error(w, "connection does not support hijacking", http.StatusInternalServerError)
		return
	}

	client, _, err := hijacker.Hijack()
	if err != nil {
		target.Close()
		return
	}
	defer client.Close()
	defer target.Close()

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	stats, err := tunnel.Run(client, target)
	h.logger.Debug("http connect tunnel closed",
		logging.KeyAddress, hostport,
		"bytes_in", stats.ClientToTarget,
		"bytes_out", stats.TargetToClient,
		logging.KeyError, err,
	)
}

// handleForward rewrites the request to origin-form, dials the
// destination fresh (matching the original's per-request client
// connection, rather than a pooled transport), and relays the response
// back to the client.
//
// The response is relayed as raw bytes rather than decoded through
// http.ReadResponse/http.Header: net/http canonicalizes header field
// names on parse (and again on w.Header().Add), which would silently
// discard whatever case the origin actually sent. Reading and hijacking
// instead copies the response byte for byte, preserving header case
// exactly as required.
func (h *Handler) handleForward(w http.ResponseWriter, r *http.Request) {
	host, ok := extractHostPort(r, "80")
	if !ok {
		http.Error(w, "request has no destination host", http.StatusBadRequest)
		return
	}

	target, err := h.dialer.DialHostPort(r.Context(), host)
	if err != nil {
		http.Error(w, "failed to dial destination", http.StatusInternalServerError)
		return
	}
	defer target.Close()

	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	outReq.URL = &url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	// Each forwarded request dials a fresh origin connection, so ask the
	// origin to close rather than leave an unreusable connection idle.
	// This also bounds the raw response copy below: it runs until the
	// origin closes, instead of needing to re-derive Content-Length or
	// chunked framing from the raw bytes.
	outReq.Close = true

	if err := outReq.Write(target); err != nil {
		http.Error(w, "failed to forward request", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection does not support hijacking", http.StatusInternalServerError)
		return
	}
	client, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer client.Close()

	n, err := io.Copy(client, target)
	h.logger.Debug("http forward relayed response",
		logging.KeyAddress, host,
		"bytes", n,
		logging.KeyError, err,
	)
}
