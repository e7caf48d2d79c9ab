package dialer

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// relayDialer sends every connection to a fixed fallback host, keeping the
// target's port unless the relay names its own.
type relayDialer struct {
	relay  Relay
	direct Dialer
}

func NewRelayDialer(cfg Config, relay Relay) Strategy {
	return &relayDialer{relay: relay, direct: NewDirectDialer(cfg)}
}

func (f *relayDialer) String() string {
	return "relay(" + f.relay.String() + ")"
}

func (f *relayDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", address, err)
	}
	if f.relay.Port != 0 {
		port = strconv.Itoa(int(f.relay.Port))
	}

	c, err := f.direct.DialContext(ctx, network, net.JoinHostPort(f.relay.Host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	return c, nil
}
