// Package header decodes the handshake frame that opens every tunnel
// session.
//
// Wire layout:
//
//	0          version, echoed back in the response header
//	1..16      identity token
//	17         optLen
//	18+optLen  command (1=stream, 2=datagram)
//	19+optLen  target port, big-endian
//	21+optLen  address type (1=IPv4, 2=domain, 3=IPv6)
//	22+optLen  address bytes
//	rest       initial payload
package header

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

const (
	// MinFrameLen is the shortest handshake accepted.
	MinFrameLen = 24

	// IdentityLen is the length of the identity token.
	IdentityLen = 16

	// DNSPort is the only port datagram sessions may target.
	DNSPort = 53
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrMalformedFrame       = errors.New("malformed frame")
	ErrMalformedAddress     = fmt.Errorf("%w: malformed address", ErrMalformedFrame)
)

// Command selects what the session does with the target.
type Command byte

const (
	CommandStream   Command = 1
	CommandDatagram Command = 2
)

func (c Command) String() string {
	switch c {
	case CommandStream:
		return "stream"
	case CommandDatagram:
		return "datagram"
	default:
		return "command(" + strconv.Itoa(int(c)) + ")"
	}
}

// Frame is a decoded handshake.
type Frame struct {
	Version  byte
	Identity [IdentityLen]byte
	Options  []byte
	Command  Command
	Port     uint16
	Address  Address
	Payload  []byte

	// PayloadOffset is the index in the original message where Payload
	// starts.
	PayloadOffset int
}

// Target returns the host:port the session should connect to.
func (f *Frame) Target() string {
	return net.JoinHostPort(f.Address.String(), strconv.Itoa(int(f.Port)))
}

// ResponseHeader returns the two-byte header prepended once to the first
// payload sent back to the client.
func (f *Frame) ResponseHeader() []byte {
	return []byte{f.Version, 0x00}
}

// Parse decodes the first client message. The identity token must equal
// secret byte for byte. Payload aliases b.
func Parse(b []byte, secret [IdentityLen]byte) (*Frame, error) {
	if len(b) < MinFrameLen {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedFrame, len(b))
	}

	f := &Frame{Version: b[0]}
	copy(f.Identity[:], b[1:1+IdentityLen])
	if subtle.ConstantTimeCompare(f.Identity[:], secret[:]) != 1 {
		return nil, ErrAuthenticationFailed
	}

	optLen := int(b[17])
	pos := 18 + optLen
	// command, port and address type must all fit.
	if pos+4 > len(b) {
		return nil, fmt.Errorf("%w: option block overruns frame", ErrMalformedFrame)
	}
	f.Options = b[18:pos]

	f.Command = Command(b[pos])
	if f.Command != CommandStream && f.Command != CommandDatagram {
		return nil, fmt.Errorf("%w: unknown command %d", ErrMalformedFrame, b[pos])
	}
	f.Port = binary.BigEndian.Uint16(b[pos+1:])
	if f.Command == CommandDatagram && f.Port != DNSPort {
		return nil, fmt.Errorf("%w: datagram to port %d", ErrMalformedFrame, f.Port)
	}

	addr, n, err := DecodeAddress(b, AddrType(b[pos+3]), pos+4)
	if err != nil {
		return nil, err
	}
	f.Address = addr
	f.PayloadOffset = pos + 4 + n
	f.Payload = b[f.PayloadOffset:]

	return f, nil
}

// Encode builds a handshake frame. It is the inverse of Parse and is used by
// clients and tests.
func Encode(version byte, identity [IdentityLen]byte, cmd Command, port uint16, addr Address, payload []byte) ([]byte, error) {
	b := make([]byte, 0, MinFrameLen+len(addr.Domain)+16+len(payload))
	b = append(b, version)
	b = append(b, identity[:]...)
	b = append(b, 0) // optLen
	b = append(b, byte(cmd))
	b = binary.BigEndian.AppendUint16(b, port)
	b = append(b, byte(addr.Type))

	switch addr.Type {
	case AddrIPv4:
		if !addr.IP.Is4() {
			return nil, fmt.Errorf("%w: %s is not ipv4", ErrMalformedAddress, addr.IP)
		}
		ip := addr.IP.As4()
		b = append(b, ip[:]...)
	case AddrDomain:
		if len(addr.Domain) == 0 || len(addr.Domain) > 255 {
			return nil, fmt.Errorf("%w: domain length %d", ErrMalformedAddress, len(addr.Domain))
		}
		b = append(b, byte(len(addr.Domain)))
		b = append(b, addr.Domain...)
	case AddrIPv6:
		ip := addr.IP.As16()
		b = append(b, ip[:]...)
	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrMalformedAddress, byte(addr.Type))
	}

	return append(b, payload...), nil
}
