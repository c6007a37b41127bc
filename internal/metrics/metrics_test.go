package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAcceptedAndClosed(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordAccepted("socks5")
	if got := testutil.ToFloat64(m.ConnectionsActive.WithLabelValues("socks5")); got != 1 {
		t.Fatalf("ConnectionsActive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsTotal.WithLabelValues("socks5")); got != 1 {
		t.Fatalf("ConnectionsTotal = %v, want 1", got)
	}

	m.RecordClosed("socks5")
	if got := testutil.ToFloat64(m.ConnectionsActive.WithLabelValues("socks5")); got != 0 {
		t.Fatalf("ConnectionsActive after close = %v, want 0", got)
	}
}

func TestRecordErrorIncrementsByReason(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordError("http", "dial")
	m.RecordError("http", "dial")
	m.RecordError("socks5", "handshake")

	if got := testutil.ToFloat64(m.ConnectErrors.WithLabelValues("http", "dial")); got != 2 {
		t.Fatalf("ConnectErrors[http,dial] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConnectErrors.WithLabelValues("socks5", "handshake")); got != 1 {
		t.Fatalf("ConnectErrors[socks5,handshake] = %v, want 1", got)
	}
}

func TestRecordTunnelBytesSkipsNonPositive(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordTunnelBytes("up", 0)
	m.RecordTunnelBytes("up", -5)
	m.RecordTunnelBytes("up", 100)

	if got := testutil.ToFloat64(m.TunnelBytes.WithLabelValues("up")); got != 100 {
		t.Fatalf("TunnelBytes[up] = %v, want 100", got)
	}
}

func TestRecordAcceptBackoff(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordAcceptBackoff()
	m.RecordAcceptBackoff()

	if got := testutil.ToFloat64(m.AcceptBackoffs); got != 2 {
		t.Fatalf("AcceptBackoffs = %v, want 2", got)
	}
}

func TestRecordDial(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordDial(0.05, "succeeded")
	m.RecordDial(0.1, "host_unreachable")

	if got := testutil.ToFloat64(m.DialReplies.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("DialReplies[succeeded] = %v, want 1", got)
	}
}

func TestDefaultReturnsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatal("Default() returned different instances across calls")
	}
}
