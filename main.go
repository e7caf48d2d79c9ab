package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/wsgate/internal/config"
	"github.com/die-net/wsgate/internal/conn"
	"github.com/die-net/wsgate/internal/dialer"
	"github.com/die-net/wsgate/internal/dnstunnel"
	"github.com/die-net/wsgate/internal/gateway"
	"github.com/die-net/wsgate/internal/session"
)

var (
	// Reduce GC overhead by setting a minimum GC heap size;
	// GOGC+GOMEMLIMIT can't express this.  This only allocates virtual
	// memory, not RSS.  Ignore it in memory profiles.
	ballast = make([]byte, 0, 25_000_000)
	_       = ballast
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen     = pflag.String("listen", ":8080", "Websocket gateway listen address")
		secret     = pflag.String("secret", "", "Identity secret every handshake must carry, as a UUID (required)")
		configPath = pflag.String("config", "", "YAML file of settings keyed by flag name; flags given on the command line win")

		socks5Gateway = pflag.String("socks5", "", "Default SOCKS5 gateway [user:pass@]host[:port], tried after a direct dial. Empty disables.")
		globalSOCKS5  = pflag.Bool("global-socks5", false, "Send every default-route dial through --socks5 instead of trying direct first")
		relay         = pflag.String("relay", "", "Default static relay host[:port], tried after a direct dial. A missing port means the target's port.")
		dohURL        = pflag.String("doh-url", dnstunnel.DefaultURL, "DNS-over-HTTPS resolver for datagram sessions")
		denyHosts     = pflag.StringSlice("deny-host", []string{"speed.cloudflare.com"}, "Hostnames (and their subdomains) sessions may not target")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for each outbound dial strategy, including DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for SOCKS5 negotiation with a gateway")
		handshakeTimeout   = pflag.Duration("handshake-timeout", 10*time.Second, "Timeout for the websocket upgrade and the first client message")
		writeTimeout       = pflag.Duration("write-timeout", 30*time.Second, "Timeout for each message written to a client")
		keepAlive          = pflag.Duration("keepalive", session.DefaultKeepAlive, "Idle time before a zero-length write is sent to the outbound connection")
		stallTimeout       = pflag.Duration("stall-timeout", session.DefaultStallTimeout, "Idle time after which an outbound connection counts as stalled")
		maxStall           = pflag.Int("max-stall", session.DefaultMaxStall, "Consecutive stalls that trigger a reconnect")
		maxReconnect       = pflag.Int("max-reconnect", session.DefaultMaxReconnect, "Reconnect attempts allowed without intervening data")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		logLevel           = pflag.String("log-level", "info", "Log level: trace|debug|info|warn|error")
		failSilent         = pflag.Bool("fail-silent", true, "Drop rejected handshakes without a websocket close frame")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("invalid --config: %w", err)
		}
		if err := f.Apply(pflag.CommandLine, "config"); err != nil {
			return fmt.Errorf("invalid --config %s: %w", *configPath, err)
		}
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logrus.StandardLogger())

	if *secret == "" {
		return errors.New("--secret is required")
	}
	id, err := uuid.Parse(*secret)
	if err != nil {
		return fmt.Errorf("invalid --secret: %w", err)
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	dialCfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		DenyHosts:          *denyHosts,
	}

	route, err := defaultRoute(*socks5Gateway, *globalSOCKS5, *relay)
	if err != nil {
		return err
	}
	if _, err := dialer.NewPlan(dialCfg, route); err != nil {
		return fmt.Errorf("invalid default route: %w", err)
	}

	sessCfg := session.DefaultConfig()
	sessCfg.Secret = id
	resolver := dnstunnel.NewDoHResolver(*dohURL, nil)
	sessCfg.Resolver = resolver
	sessCfg.HandshakeTimeout = *handshakeTimeout
	sessCfg.KeepAlive = *keepAlive
	sessCfg.StallTimeout = *stallTimeout
	sessCfg.MaxStall = *maxStall
	sessCfg.MaxReconnect = *maxReconnect
	sessCfg.FailSilent = *failSilent
	if err := sessCfg.Validate(); err != nil {
		return fmt.Errorf("invalid session settings: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := conn.ListenTCP(ctx, "tcp", *debugListen, ka)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Infof("debug listening on %s", *debugListen)
	}

	ln, err := conn.ListenTCP(ctx, "tcp", *listen, ka)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	gw := gateway.NewServer(ctx, gateway.Config{
		Session:        sessCfg,
		Dial:           dialCfg,
		Route:          route,
		UpgradeTimeout: *handshakeTimeout,
		WriteTimeout:   *writeTimeout,
		Log:            log,
	})
	srv := &http.Server{
		Handler:           gw,
		ReadHeaderTimeout: *handshakeTimeout,
	}
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("gateway serve: %w", err)
		}
		return nil
	})
	log.WithFields(logrus.Fields{
		"route": route.Kinds,
		"doh":   resolver.URL(),
	}).Infof("gateway listening on %s", *listen)

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down")
	return err
}

// defaultRoute is the route for requests without routing parameters.
func defaultRoute(gateway string, global bool, relay string) (dialer.Route, error) {
	route := dialer.DefaultRoute()

	if gateway != "" {
		gw, err := dialer.ParseGateway(gateway)
		if err != nil {
			return route, fmt.Errorf("invalid --socks5: %w", err)
		}
		route.Gateway = gw
		route.Add(dialer.KindSOCKS5)
	}

	if relay != "" {
		r, err := dialer.ParseRelay(relay)
		if err != nil {
			return route, fmt.Errorf("invalid --relay: %w", err)
		}
		route.Relay = r
		route.Add(dialer.KindRelay)
	}

	if global {
		if gateway == "" {
			return route, errors.New("--global-socks5 requires --socks5")
		}
		route.Kinds = []dialer.Kind{dialer.KindSOCKS5}
	}

	return route, nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
