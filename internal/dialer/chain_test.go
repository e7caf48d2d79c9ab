package dialer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/die-net/wsgate/internal/testutil"
)

type fakeStrategy struct {
	name  string
	err   error
	calls atomic.Int32
}

func (f *fakeStrategy) String() string { return f.name }

func (f *fakeStrategy) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	c, s := net.Pipe()
	_ = s.Close()
	return c, nil
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	t.Parallel()

	a := &fakeStrategy{name: "a", err: errors.New("a failed")}
	b := &fakeStrategy{name: "b"}
	c := &fakeStrategy{name: "c"}

	chain := NewChain(Config{}, Plan{a, b, c})
	require.Equal(t, "[a, b, c]", chain.Plan().String())
	conn, err := chain.DialContext(context.Background(), "tcp", "example.com:443")
	require.NoError(t, err)
	_ = conn.Close()

	require.EqualValues(t, 1, a.calls.Load())
	require.EqualValues(t, 1, b.calls.Load())
	require.EqualValues(t, 0, c.calls.Load())
}

func TestChainNoRouteAvailable(t *testing.T) {
	t.Parallel()

	errA := errors.New("a failed")
	a := &fakeStrategy{name: "a", err: errA}
	b := &fakeStrategy{name: "b", err: ErrGatewayUnreachable}

	chain := NewChain(Config{}, Plan{a, b})
	_, err := chain.DialContext(context.Background(), "tcp", "example.com:443")
	require.ErrorIs(t, err, ErrNoRouteAvailable)
	require.ErrorIs(t, err, errA)
	require.EqualValues(t, 1, a.calls.Load())
	require.EqualValues(t, 1, b.calls.Load())

	_, err = NewChain(Config{}, nil).DialContext(context.Background(), "tcp", "example.com:443")
	require.ErrorIs(t, err, ErrNoRouteAvailable)
}

func TestChainForbiddenUnderEveryStrategy(t *testing.T) {
	t.Parallel()

	cfg := Config{DialTimeout: time.Second, DenyHosts: []string{"speed.cloudflare.com"}}
	plans := map[string]Plan{
		"direct": {NewDirectDialer(cfg)},
		"socks5": {NewSOCKS5ProxyDialer(cfg, Gateway{Host: "127.0.0.1", Port: 1080})},
		"relay":  {NewRelayDialer(cfg, Relay{Host: "127.0.0.1"})},
	}
	targets := []string{
		"169.254.169.254:80",
		"169.254.0.1:443",
		"[fe80::1]:80",
		"[febf::1]:80",
		"[::ffff:169.254.169.254]:80",
		"speed.cloudflare.com:443",
		"SPEED.cloudflare.com.:443",
		"a.speed.cloudflare.com:443",
	}

	for name, plan := range plans {
		for _, target := range targets {
			chain := NewChain(cfg, plan)
			var attempts int
			chain.OnAttempt = func(Strategy) { attempts++ }

			_, err := chain.DialContext(context.Background(), "tcp", target)
			require.ErrorIs(t, err, ErrAddressForbidden, "%s %s", name, target)
			require.Zero(t, attempts, "%s %s", name, target)
		}
	}
}

func TestCheckTargetAllows(t *testing.T) {
	t.Parallel()

	for _, host := range []string{"example.com", "1.1.1.1", "[2001:db8::1]", "169.255.0.1", "fec0::1", "notspeed.cloudflare.com"} {
		require.NoError(t, CheckTarget(host, []string{"speed.cloudflare.com"}), host)
	}
}

func TestDirectDialerRejectsResolvedLinkLocal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewDirectDialer(Config{}).DialContext(ctx, "tcp", "169.254.169.254:80")
	require.ErrorIs(t, err, ErrAddressForbidden)
}

func TestRelayDialer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoServer(t, ctx)
	_, portStr, _ := net.SplitHostPort(echoLn.Addr().String())
	port, _ := strconv.Atoi(portStr)

	t.Run("own port", func(t *testing.T) {
		d := NewRelayDialer(Config{}, Relay{Host: "127.0.0.1", Port: uint16(port)})
		conn, err := d.DialContext(ctx, "tcp", "unreachable.example:1")
		require.NoError(t, err)
		defer conn.Close()
		testutil.AssertEcho(t, conn, conn, []byte("via relay"))
	})

	t.Run("target port", func(t *testing.T) {
		d := NewRelayDialer(Config{}, Relay{Host: "127.0.0.1"})
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("unreachable.example", portStr))
		require.NoError(t, err)
		defer conn.Close()
		testutil.AssertEcho(t, conn, conn, []byte("via relay"))
	})

	t.Run("unreachable", func(t *testing.T) {
		d := NewRelayDialer(Config{}, Relay{Host: "127.0.0.1"})
		_, err := d.DialContext(ctx, "tcp", testutil.ClosedAddr(t))
		require.ErrorIs(t, err, ErrGatewayUnreachable)
	})
}

func TestChainFallsBackToSOCKS5(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoServer(t, ctx)
	gw := &testutil.SOCKS5Gateway{}
	upLn, _ := testutil.StartServer(t, ctx, func(c net.Conn) {
		_ = gw.Serve(ctx, c)
	})

	failing := &fakeStrategy{name: "direct", err: errors.New("blocked")}
	chain := NewChain(Config{DialTimeout: time.Second}, Plan{failing, NewSOCKS5ProxyDialer(Config{}, gatewayFor(t, upLn, "", ""))})

	conn, err := chain.DialContext(ctx, "tcp", echoLn.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	testutil.AssertEcho(t, conn, conn, []byte("through gateway"))
}
