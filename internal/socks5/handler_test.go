package socks5

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dualproxy/dualproxy/internal/addr"
)

// fakeOutbound returns one end of an in-memory pipe as the "dialed"
// connection, letting tests drive the target side directly.
type fakeOutbound struct {
	target net.Conn
	err    error
}

func (f *fakeOutbound) DialAddress(ctx context.Context, a addr.Address) (net.Conn, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.target, nil
}

func TestHandleConnectEndToEnd(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	targetHandlerSide, targetTestSide := net.Pipe()

	h := NewHandler(&fakeOutbound{target: targetHandlerSide}, nil)

	done := make(chan error, 1)
	go func() { done <- h.Handle(context.Background(), serverSide) }()

	// Client: handshake offering "no auth".
	if _, err := clientSide.Write([]byte{Version, 0x01, byte(AuthNone)}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	hsResp := make([]byte, 2)
	if _, err := io.ReadFull(clientSide, hsResp); err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if hsResp[0] != Version || AuthMethod(hsResp[1]) != AuthNone {
		t.Fatalf("handshake response = %x", hsResp)
	}

	// Client: relay request for a domain destination.
	var req bytes.Buffer
	req.WriteByte(Version)
	req.WriteByte(byte(CmdConnect))
	req.WriteByte(0x00)
	dest := addr.FromDomain("example.com", 80)
	if err := dest.WriteTo(&req); err != nil {
		t.Fatalf("dest.WriteTo: %v", err)
	}
	if _, err := clientSide.Write(req.Bytes()); err != nil {
		t.Fatalf("write relay request: %v", err)
	}

	relayHead := make([]byte, 4)
	if _, err := io.ReadFull(clientSide, relayHead); err != nil {
		t.Fatalf("read relay response head: %v", err)
	}
	if relayHead[0] != Version || Reply(relayHead[1]) != Succeeded {
		t.Fatalf("relay response = %x", relayHead)
	}
	// net.Pipe has no *net.TCPAddr local address, so the response falls
	// back to the zero IPv4 address: after the 4-byte head (which ends
	// with ATYP), 4 address bytes and 2 port bytes remain.
	rest := make([]byte, 6)
	if _, err := io.ReadFull(clientSide, rest); err != nil {
		t.Fatalf("read relay response tail: %v", err)
	}

	// Tunnel is now live: bytes sent from the target arrive at the client.
	payload := []byte("hello from target")
	writeDone := make(chan error, 1)
	go func() { _, err := targetTestSide.Write(payload); writeDone <- err }()

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(clientSide, buf); err != nil {
		t.Fatalf("read tunneled payload: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("got %q, want %q", buf, payload)
	}
	if err := <-writeDone; err != nil {
		t.Fatalf("target write: %v", err)
	}

	clientSide.Close()
	targetTestSide.Close()

	select {
	case err := <-done:
		if err != nil && err != io.EOF {
			t.Fatalf("Handle returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return after client closed")
	}
}

func TestHandleRejectsUnsupportedCommand(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	h := NewHandler(&fakeOutbound{}, nil)

	done := make(chan error, 1)
	go func() { done <- h.Handle(context.Background(), serverSide) }()

	if _, err := clientSide.Write([]byte{Version, 0x01, byte(AuthNone)}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	hsResp := make([]byte, 2)
	if _, err := io.ReadFull(clientSide, hsResp); err != nil {
		t.Fatalf("read handshake response: %v", err)
	}

	var req bytes.Buffer
	req.WriteByte(Version)
	req.WriteByte(byte(CmdBind))
	req.WriteByte(0x00)
	dest := addr.FromIP([]byte{127, 0, 0, 1}, 1)
	if err := dest.WriteTo(&req); err != nil {
		t.Fatalf("dest.WriteTo: %v", err)
	}
	if _, err := clientSide.Write(req.Bytes()); err != nil {
		t.Fatalf("write relay request: %v", err)
	}

	relayHead := make([]byte, 2)
	if _, err := io.ReadFull(clientSide, relayHead); err != nil {
		t.Fatalf("read relay response: %v", err)
	}
	if Reply(relayHead[1]) != CommandNotSupported {
		t.Fatalf("reply = %v, want CommandNotSupported", Reply(relayHead[1]))
	}

	clientSide.Close()
	if err := <-done; err == nil {
		t.Fatal("Handle returned nil, want an unsupported-command error")
	}
}

func TestHandleRejectsNoAcceptableAuthMethod(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	h := NewHandler(&fakeOutbound{}, nil)

	done := make(chan error, 1)
	go func() { done <- h.Handle(context.Background(), serverSide) }()

	if _, err := clientSide.Write([]byte{Version, 0x01, byte(AuthPassword)}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	hsResp := make([]byte, 2)
	if _, err := io.ReadFull(clientSide, hsResp); err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if hsResp[1] != 0xFF {
		t.Fatalf("method = 0x%02x, want 0xFF", hsResp[1])
	}

	clientSide.Close()
	if err := <-done; err != ErrNoAcceptableAuthMethod {
		t.Fatalf("got %v, want ErrNoAcceptableAuthMethod", err)
	}
}
