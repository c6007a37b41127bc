package listener

import (
	"io"
	"net"
)

// Conn wraps an accepted net.Conn with its demultiplexing Label. The byte
// that decided the label has already been read off the wire for peeking,
// so Conn replays it ahead of the underlying connection's remaining bytes
// — every downstream reader sees exactly the stream the client sent.
type Conn struct {
	net.Conn
	Label Label

	// PeekedByte is the byte that decided Label, kept for diagnostics
	// (e.g. logging the preamble of an unrecognized connection).
	PeekedByte byte

	r io.Reader
}

func newConn(raw net.Conn, label Label, peeked byte) *Conn {
	return &Conn{
		Conn:       raw,
		Label:      label,
		PeekedByte: peeked,
		r:          io.MultiReader(singleByteReader{peeked}, raw),
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// CloseWrite propagates half-close to the underlying connection when it
// supports it (true for *net.TCPConn).
func (c *Conn) CloseWrite() error {
	if hc, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

type singleByteReader struct {
	b byte
}

func (s singleByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = s.b
	return 1, io.EOF
}
