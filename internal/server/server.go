// Package server wires the listener, protocol handlers, stats, and
// metrics together into the proxy's accept loop and shutdown sequence.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dualproxy/dualproxy/internal/conntrack"
	"github.com/dualproxy/dualproxy/internal/httpproxy"
	"github.com/dualproxy/dualproxy/internal/listener"
	"github.com/dualproxy/dualproxy/internal/logging"
	"github.com/dualproxy/dualproxy/internal/metrics"
	"github.com/dualproxy/dualproxy/internal/recovery"
	"github.com/dualproxy/dualproxy/internal/socks5"
	"github.com/dualproxy/dualproxy/internal/stats"
)

// acceptErrorBackoff is how long the accept loop pauses after a
// non-transient Accept error (e.g. a file-descriptor exhaustion),
// matching the original's fixed backoff rather than an exponential one.
const acceptErrorBackoff = 500 * time.Millisecond

// Config holds the dependencies the server core needs to run.
type Config struct {
	ProxyAddr string
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Stats     *stats.ServerStats
}

// Server is the dual-protocol proxy's core: it owns the demultiplexing
// listener and dispatches each accepted connection to the SOCKS5 or HTTP
// handler.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	stats   *stats.ServerStats

	socks5Handler *socks5.Handler
	httpHandler   *httpproxy.Handler

	tracker *conntrack.Tracker[net.Conn]
	wg      sync.WaitGroup

	mu sync.Mutex
	ln *listener.Listener
}

// New builds a Server. A nil logger discards all output; a nil Metrics
// uses the process-wide default registry.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New()
	}

	return &Server{
		cfg:           cfg,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		stats:         cfg.Stats,
		socks5Handler: socks5.NewHandler(nil, cfg.Logger),
		httpHandler:   httpproxy.NewHandler(cfg.Logger),
		tracker:       conntrack.New[net.Conn](),
	}
}

// Addr returns the listener's bound address. It is nil until Run has
// successfully bound the listener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ConnectionCount returns the number of connections currently being
// served.
func (s *Server) ConnectionCount() int64 {
	return s.tracker.Count()
}

// Run binds the listener and serves connections until ctx is canceled.
// On cancellation it stops accepting, force-closes any connections still
// in flight, waits for their handler goroutines to return, and then
// returns nil.
func (s *Server) Run(ctx context.Context) error {
	ln, err := listener.Listen(ctx, "tcp", s.cfg.ProxyAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.stats.MarkStarted(time.Now())
	s.logger.Info("proxy listener started", logging.KeyAddress, ln.Addr().String())

	stopAccept := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stopAccept:
		}
	}()
	defer close(stopAccept)

	for {
		conn, err := ln.Accept()
		if err != nil {
			var peekErr *listener.ErrPeekFailed
			if errors.As(err, &peekErr) {
				s.logger.Debug("dropping connection with unreadable preamble", logging.KeyError, err)
				continue
			}

			select {
			case <-ctx.Done():
				s.Shutdown()
				s.wg.Wait()
				return nil
			default:
			}

			s.logger.Warn("accept error, backing off", logging.KeyError, err)
			s.metrics.RecordAcceptBackoff()
			time.Sleep(acceptErrorBackoff)
			continue
		}

		if conn.Label == listener.LabelUnknown {
			s.metrics.UnknownPreambles.Inc()
			s.logger.Debug("closing connection with unrecognized preamble",
				logging.KeyRemoteAddr, conn.RemoteAddr(),
				logging.KeyError, &listener.ErrUnknownLabel{Byte: conn.PeekedByte},
			)
			conn.Close()
			continue
		}

		s.tracker.Add(conn)
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn *listener.Conn) {
	defer s.wg.Done()
	defer s.tracker.Remove(conn)
	defer conn.Close()
	defer recovery.RecoverWithLog(s.logger, "server.handle")

	label := conn.Label.String()
	s.metrics.RecordAccepted(label)
	defer s.metrics.RecordClosed(label)

	start := time.Now()
	var err error
	switch conn.Label {
	case listener.LabelSocks5:
		err = s.socks5Handler.Handle(ctx, conn)
	case listener.LabelHTTP:
		err = s.httpHandler.Handle(ctx, conn)
	default:
		err = fmt.Errorf("unreachable: dispatched unknown-labeled connection")
	}
	s.metrics.RecordTunnelDuration(label, time.Since(start).Seconds())

	if err != nil {
		s.metrics.RecordError(label, "handler")
		s.logger.Debug("connection handler returned error",
			logging.KeyRemoteAddr, conn.RemoteAddr(),
			logging.KeyTransport, label,
			logging.KeyError, err,
		)
	}
}

// Shutdown force-closes every connection still in flight. Run's own
// context cancellation already stops the accept loop; Shutdown exists
// for callers that want to drop active connections immediately instead
// of waiting for Run's context to be canceled by a signal.
func (s *Server) Shutdown() {
	s.tracker.CloseAll()
}
