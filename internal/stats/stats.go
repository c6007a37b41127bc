// Package stats implements the server's lock-free uptime tracking,
// exposed through the health endpoint.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ServerStats records whether the server has started and when, using
// only atomics so the health endpoint never blocks on the accept loop.
type ServerStats struct {
	started   atomic.Bool
	startedAt atomic.Int64 // unix millis
}

// New returns a ServerStats not yet marked as started.
func New() *ServerStats {
	return &ServerStats{}
}

// MarkStarted records the server's start time. It panics if called twice,
// mirroring the original's debug-assertion that a server starts exactly
// once in its lifetime.
func (s *ServerStats) MarkStarted(now time.Time) {
	if s.started.Swap(true) {
		panic("stats: server already marked started")
	}
	s.startedAt.Store(now.UnixMilli())
}

// IsStarted reports whether MarkStarted has been called.
func (s *ServerStats) IsStarted() bool {
	return s.started.Load()
}

// StartedAt returns the recorded start time. It panics if the server
// hasn't started yet — callers must check IsStarted first.
func (s *ServerStats) StartedAt() time.Time {
	if !s.IsStarted() {
		panic("stats: server not started")
	}
	return time.UnixMilli(s.startedAt.Load())
}

// Uptime returns the duration since MarkStarted was called. It panics if
// the server hasn't started yet.
func (s *ServerStats) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt())
}

// String renders the stats for debug logging.
func (s *ServerStats) String() string {
	if !s.IsStarted() {
		return "stats{not started}"
	}
	return fmt.Sprintf("stats{started_at=%s}", s.StartedAt().Format(time.RFC3339))
}
