package socks5

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/dualproxy/dualproxy/internal/addr"
)

// ErrInvalidVersion is returned when a VER field does not equal Version.
type ErrInvalidVersion struct {
	Byte byte
}

func (e *ErrInvalidVersion) Error() string {
	return fmt.Sprintf("unsupported SOCKS version: 0x%02x", e.Byte)
}

// ErrInvalidReserved is returned when the RSV field of a relay request is
// not the required zero byte.
type ErrInvalidReserved struct {
	Byte byte
}

func (e *ErrInvalidReserved) Error() string {
	return fmt.Sprintf("invalid reserved byte: 0x%02x", e.Byte)
}

// ErrInvalidCommand is returned when a relay request's CMD field is not
// one of the three values SOCKS5 defines. This is a decode-time data
// error, distinct from ErrUnsupportedCommand, which is reserved for a
// well-formed CMD the server simply refuses to serve (BIND, UDP
// ASSOCIATE).
type ErrInvalidCommand struct {
	Byte byte
}

func (e *ErrInvalidCommand) Error() string {
	return fmt.Sprintf("invalid command: 0x%02x", e.Byte)
}

// ErrNoAcceptableAuthMethod is returned when none of a client's offered
// methods are supported. No relay response slot exists yet when this
// occurs; the handshake response itself carries the 0xFF sentinel and the
// connection is then closed.
var ErrNoAcceptableAuthMethod = errors.New("no acceptable authentication method")

// ErrUnsupportedCommand is returned for BIND and UDP ASSOCIATE, which this
// server refuses outright.
type ErrUnsupportedCommand struct {
	Command Command
}

func (e *ErrUnsupportedCommand) Error() string {
	return fmt.Sprintf("unsupported command: %s", e.Command)
}

// ReplyFor maps an error produced while handling a relay request to the
// SOCKS5 reply code that should be sent back to the client. It is a total
// function: anything it does not recognize maps to GeneralFailure.
func ReplyFor(err error) Reply {
	if err == nil {
		return Succeeded
	}

	var unsupportedCmd *ErrUnsupportedCommand
	if errors.As(err, &unsupportedCmd) {
		return CommandNotSupported
	}

	var invalidAddrType *addr.ErrInvalidAddressType
	if errors.As(err, &invalidAddrType) {
		return AddressTypeNotSupported
	}

	var unresolved *addr.ErrUnresolvedDomain
	if errors.As(err, &unresolved) {
		return HostUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return HostUnreachable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return TTLExpired
		}
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return ConnectionRefused
		}
		if opErr.Op == "dial" {
			return HostUnreachable
		}
	}

	return GeneralFailure
}
