package header

import (
	"fmt"
	"net/netip"
	"unicode/utf8"
)

// AddrType identifies the encoding of a target address in the handshake.
type AddrType byte

const (
	AddrIPv4   AddrType = 1
	AddrDomain AddrType = 2
	AddrIPv6   AddrType = 3
)

func (t AddrType) String() string {
	switch t {
	case AddrIPv4:
		return "ipv4"
	case AddrDomain:
		return "domain"
	case AddrIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("addrtype(%d)", byte(t))
	}
}

// Address is a decoded target address. Exactly one of IP or Domain is set,
// according to Type.
type Address struct {
	Type   AddrType
	IP     netip.Addr
	Domain string
}

// String returns the address without brackets, suitable for
// net.JoinHostPort.
func (a Address) String() string {
	if a.Type == AddrDomain {
		return a.Domain
	}
	return a.IP.String()
}

// Host returns the address as a host string; IPv6 literals are bracketed.
func (a Address) Host() string {
	if a.Type == AddrIPv6 {
		return "[" + a.IP.String() + "]"
	}
	return a.String()
}

// DecodeAddress decodes an address of type typ starting at b[off]. It returns
// the address and the number of bytes consumed.
func DecodeAddress(b []byte, typ AddrType, off int) (Address, int, error) {
	if off < 0 || off > len(b) {
		return Address{}, 0, fmt.Errorf("%w: offset %d out of range", ErrMalformedAddress, off)
	}
	rest := b[off:]

	switch typ {
	case AddrIPv4:
		if len(rest) < 4 {
			return Address{}, 0, fmt.Errorf("%w: short ipv4", ErrMalformedAddress)
		}
		return Address{Type: AddrIPv4, IP: netip.AddrFrom4([4]byte(rest[:4]))}, 4, nil

	case AddrDomain:
		if len(rest) < 1 {
			return Address{}, 0, fmt.Errorf("%w: missing domain length", ErrMalformedAddress)
		}
		n := int(rest[0])
		if n == 0 || len(rest) < 1+n {
			return Address{}, 0, fmt.Errorf("%w: short domain", ErrMalformedAddress)
		}
		name := rest[1 : 1+n]
		if !utf8.Valid(name) {
			return Address{}, 0, fmt.Errorf("%w: domain is not utf-8", ErrMalformedAddress)
		}
		return Address{Type: AddrDomain, Domain: string(name)}, 1 + n, nil

	case AddrIPv6:
		if len(rest) < 16 {
			return Address{}, 0, fmt.Errorf("%w: short ipv6", ErrMalformedAddress)
		}
		// Eight big-endian 16-bit groups are the network-order bytes.
		return Address{Type: AddrIPv6, IP: netip.AddrFrom16([16]byte(rest[:16]))}, 16, nil

	default:
		return Address{}, 0, fmt.Errorf("%w: unknown type %d", ErrMalformedAddress, byte(typ))
	}
}
