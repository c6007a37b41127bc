package tunnel

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestRunSplicesBothDirections(t *testing.T) {
	clientA, clientB := net.Pipe()
	targetA, targetB := net.Pipe()

	done := make(chan struct {
		stats Stats
		err   error
	}, 1)
	go func() {
		stats, err := Run(clientB, targetB)
		done <- struct {
			stats Stats
			err   error
		}{stats, err}
	}()

	clientPayload := []byte("client says hi")
	targetPayload := []byte("target replies")

	readTarget := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(clientPayload))
		io.ReadFull(targetA, buf)
		readTarget <- buf
	}()

	if _, err := clientA.Write(clientPayload); err != nil {
		t.Fatalf("clientA.Write: %v", err)
	}
	if got := <-readTarget; string(got) != string(clientPayload) {
		t.Fatalf("target received %q, want %q", got, clientPayload)
	}

	readClient := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(targetPayload))
		io.ReadFull(clientA, buf)
		readClient <- buf
	}()

	if _, err := targetA.Write(targetPayload); err != nil {
		t.Fatalf("targetA.Write: %v", err)
	}
	if got := <-readClient; string(got) != string(targetPayload) {
		t.Fatalf("client received %q, want %q", got, targetPayload)
	}

	clientA.Close()
	targetA.Close()

	select {
	case result := <-done:
		if result.err != nil && result.err != io.ErrClosedPipe {
			t.Fatalf("Run returned %v", result.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after both sides closed")
	}
}

// halfCloseConn wraps net.Conn to record whether CloseWrite was invoked,
// since net.Pipe connections don't implement half-close themselves.
type halfCloseConn struct {
	net.Conn
	wroteClose chan struct{}
}

func (c *halfCloseConn) CloseWrite() error {
	close(c.wroteClose)
	return nil
}

func TestRunPropagatesHalfClose(t *testing.T) {
	clientA, clientB := net.Pipe()
	targetA, targetB := net.Pipe()

	wroteClose := make(chan struct{})
	wrappedTarget := &halfCloseConn{Conn: targetB, wroteClose: wroteClose}

	done := make(chan error, 1)
	go func() {
		_, err := Run(clientB, wrappedTarget)
		done <- err
	}()

	// Closing the client's write side (by closing clientA, terminating
	// reads on clientB) should trigger a CloseWrite on the target leg.
	clientA.Close()

	select {
	case <-wroteClose:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseWrite was never called on the target leg")
	}

	targetA.Close()
	<-done
}
