// Package addr implements the SOCKS5 address representation and its wire
// encoding: the ATYP/DST.ADDR/DST.PORT and BND.ADDR/BND.PORT fields shared
// by the handshake relay request and relay response.
package addr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"unicode/utf8"
)

// Type is the SOCKS5 ATYP wire value.
type Type byte

const (
	TypeIPv4   Type = 0x01
	TypeDomain Type = 0x03
	TypeIPv6   Type = 0x04
)

func (t Type) String() string {
	switch t {
	case TypeIPv4:
		return "ipv4"
	case TypeDomain:
		return "domain"
	case TypeIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// ErrInvalidAddressType is returned when an ATYP byte does not match one of
// the three wire values. It carries the offending byte for logging.
type ErrInvalidAddressType struct {
	Byte byte
}

func (e *ErrInvalidAddressType) Error() string {
	return fmt.Sprintf("invalid address type: 0x%02x", e.Byte)
}

// ErrDomainDecoding wraps a UTF-8 validation failure while decoding a
// domain name from the wire.
type ErrDomainDecoding struct {
	Err error
}

func (e *ErrDomainDecoding) Error() string { return fmt.Sprintf("domain name decoding failed: %v", e.Err) }
func (e *ErrDomainDecoding) Unwrap() error { return e.Err }

// ErrUnresolvedDomain is returned when a domain name cannot be resolved to
// any address.
type ErrUnresolvedDomain struct {
	Domain string
}

func (e *ErrUnresolvedDomain) Error() string {
	return fmt.Sprintf("unresolved domain name: %s", e.Domain)
}

// Address is a SOCKS5 destination or bound address: either a literal IP or
// a domain name, always paired with a port. Exactly one of IP or Domain is
// set.
type Address struct {
	IP     net.IP
	Domain string
	Port   uint16
}

// FromIP builds an Address carrying a literal IP. The IP's 4-or-16-byte
// form decides whether it encodes as TypeIPv4 or TypeIPv6.
func FromIP(ip net.IP, port uint16) Address {
	return Address{IP: ip, Port: port}
}

// FromDomain builds an Address carrying a domain name.
func FromDomain(domain string, port uint16) Address {
	return Address{Domain: domain, Port: port}
}

// FromTCPAddr builds an Address from a resolved net.TCPAddr, used to encode
// the bound local address in a successful RelayResponse.
func FromTCPAddr(a *net.TCPAddr) Address {
	return Address{IP: a.IP, Port: uint16(a.Port)}
}

func (a Address) IsDomain() bool { return a.Domain != "" }

// Type reports the wire ATYP this address would encode as.
func (a Address) Type() Type {
	if a.IsDomain() {
		return TypeDomain
	}
	if ip4 := a.IP.To4(); ip4 != nil {
		return TypeIPv4
	}
	return TypeIPv6
}

func (a Address) String() string {
	host := a.Domain
	if host == "" {
		host = a.IP.String()
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", a.Port))
}

// ReadFrom decodes an ATYP+ADDR+PORT field from r, per SOCKS5 §5/§6.
func ReadFrom(r io.Reader) (Address, error) {
	var head [1]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Address{}, fmt.Errorf("read address type: %w", err)
	}

	switch Type(head[0]) {
	case TypeIPv4:
		var buf [4 + 2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Address{}, fmt.Errorf("read ipv4 address: %w", err)
		}
		ip := net.IP(buf[:4])
		port := binary.BigEndian.Uint16(buf[4:])
		return Address{IP: ip, Port: port}, nil
	case TypeIPv6:
		var buf [16 + 2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Address{}, fmt.Errorf("read ipv6 address: %w", err)
		}
		ip := net.IP(buf[:16])
		port := binary.BigEndian.Uint16(buf[16:])
		return Address{IP: ip, Port: port}, nil
	case TypeDomain:
		var lenByte [1]byte
		if _, err := io.ReadFull(r, lenByte[:]); err != nil {
			return Address{}, fmt.Errorf("read domain length: %w", err)
		}
		buf := make([]byte, int(lenByte[0])+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Address{}, fmt.Errorf("read domain name: %w", err)
		}
		name := buf[:len(buf)-2]
		if !isValidUTF8(name) {
			return Address{}, &ErrDomainDecoding{Err: errors.New("invalid utf-8 in domain name")}
		}
		port := binary.BigEndian.Uint16(buf[len(buf)-2:])
		return Address{Domain: string(name), Port: port}, nil
	default:
		return Address{}, &ErrInvalidAddressType{Byte: head[0]}
	}
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}

// WriteTo encodes the address as ATYP+ADDR+PORT onto buf.
func (a Address) WriteTo(buf *bytes.Buffer) error {
	switch a.Type() {
	case TypeDomain:
		if len(a.Domain) > 255 {
			return fmt.Errorf("domain name too long: %d bytes", len(a.Domain))
		}
		buf.WriteByte(byte(TypeDomain))
		buf.WriteByte(byte(len(a.Domain)))
		buf.WriteString(a.Domain)
	case TypeIPv4:
		buf.WriteByte(byte(TypeIPv4))
		buf.Write(a.IP.To4())
	case TypeIPv6:
		buf.WriteByte(byte(TypeIPv6))
		buf.Write(a.IP.To16())
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.Port)
	buf.Write(portBuf[:])
	return nil
}

// Resolve turns the address into a dialable *net.TCPAddr, performing DNS
// resolution for domain names. The first resolved IP is used; lurk-style
// proxies do not try the full happy-eyeballs candidate list.
func (a Address) Resolve(ctx context.Context) (*net.TCPAddr, error) {
	if !a.IsDomain() {
		return &net.TCPAddr{IP: a.IP, Port: int(a.Port)}, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, a.Domain)
	if err != nil || len(ips) == 0 {
		return nil, &ErrUnresolvedDomain{Domain: a.Domain}
	}
	return &net.TCPAddr{IP: ips[0].IP, Port: int(a.Port)}, nil
}
