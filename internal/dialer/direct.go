package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Strategy that connects straight to the target.
// The resolved remote address is checked against link-local ranges before
// connecting.
func NewDirectDialer(cfg Config) Strategy {
	return &directDialer{cfg: cfg}
}

func (f *directDialer) String() string {
	return "direct"
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{
		Timeout:        f.cfg.DialTimeout,
		ControlContext: rejectLinkLocal,
	}

	conn, err := dd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}

// rejectLinkLocal runs after name resolution with the concrete remote
// address about to be connected.
func rejectLinkLocal(_ context.Context, _, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil
	}
	if isLinkLocal(ap.Addr()) {
		return fmt.Errorf("%w: %s resolves to link-local", ErrAddressForbidden, address)
	}
	return nil
}
