package dialer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/die-net/wsgate/internal/socks5"
)

// SOCKS5ProxyDialer dials targets through a SOCKS5 gateway using CONNECT.
type SOCKS5ProxyDialer struct {
	cfg     Config
	gateway Gateway
	direct  Dialer
}

func NewSOCKS5ProxyDialer(cfg Config, gateway Gateway) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:     cfg,
		gateway: gateway,
		direct:  NewDirectDialer(cfg),
	}
}

func (f *SOCKS5ProxyDialer) String() string {
	return "socks5(" + f.gateway.Addr() + ")"
}

// DialContext connects to the gateway and performs the SOCKS5 handshake for
// address synchronously before returning.
//
// If NegotiationTimeout is set, a deadline is applied during negotiation and
// cleared before returning. Cancelling ctx aborts negotiation.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s: invalid port: %w", address, err)
	}

	c, err := f.direct.DialContext(ctx, "tcp", f.gateway.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Now())
	})

	auth := socks5.Auth{Username: f.gateway.Username, Password: f.gateway.Password}
	err = socks5.ClientDial(c, auth, host, uint16(port))
	if !stop() || err != nil {
		_ = c.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}

	_ = c.SetDeadline(time.Time{})
	return c, nil
}
