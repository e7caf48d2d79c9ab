package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds each strategy attempt, including any gateway
	// negotiation.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the SOCKS5 handshake with a gateway.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
	// DenyHosts are hostnames (and their subdomains) that may never be
	// targeted.
	DenyHosts []string
}
