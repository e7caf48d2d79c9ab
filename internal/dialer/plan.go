package dialer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind names a dial strategy in a Route.
type Kind int

const (
	KindDirect Kind = iota
	KindSOCKS5
	KindRelay
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindSOCKS5:
		return "socks5"
	case KindRelay:
		return "relay"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

const defaultSOCKS5Port = 1080

// Gateway configures an upstream SOCKS5 gateway. A username implies a
// password.
type Gateway struct {
	Host     string
	Port     uint16
	Username string
	Password string
}

// Addr returns host:port for dialing.
func (g Gateway) Addr() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(int(g.Port)))
}

// Relay is a static fallback host. Port zero means the target's port.
type Relay struct {
	Host string
	Port uint16
}

func (r Relay) String() string {
	if r.Port == 0 {
		return r.Host
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// Route is the routing choice for one session: the strategies in the order
// they should be tried, plus their parameters.
type Route struct {
	Kinds   []Kind
	Gateway Gateway
	Relay   Relay
}

// DefaultRoute dials directly.
func DefaultRoute() Route {
	return Route{Kinds: []Kind{KindDirect}}
}

// Add appends k unless the route already contains it.
func (r *Route) Add(k Kind) {
	for _, have := range r.Kinds {
		if have == k {
			return
		}
	}
	r.Kinds = append(r.Kinds, k)
}

// NewPlan builds the strategies for r.
func NewPlan(cfg Config, r Route) (Plan, error) {
	if len(r.Kinds) == 0 {
		return nil, errors.New("route has no strategies")
	}

	plan := make(Plan, 0, len(r.Kinds))
	for _, k := range r.Kinds {
		switch k {
		case KindDirect:
			plan = append(plan, NewDirectDialer(cfg))
		case KindSOCKS5:
			if r.Gateway.Host == "" {
				return nil, errors.New("socks5 strategy without gateway")
			}
			plan = append(plan, NewSOCKS5ProxyDialer(cfg, r.Gateway))
		case KindRelay:
			if r.Relay.Host == "" {
				return nil, errors.New("relay strategy without host")
			}
			plan = append(plan, NewRelayDialer(cfg, r.Relay))
		default:
			return nil, fmt.Errorf("unknown strategy %s", k)
		}
	}
	return plan, nil
}

// ParseGateway parses "[user:pass@]host[:port]". IPv6 hosts must be
// bracketed. The port defaults to 1080.
func ParseGateway(s string) (Gateway, error) {
	var g Gateway

	hostport := s
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		cred := s[:i]
		hostport = s[i+1:]
		user, pass, ok := strings.Cut(cred, ":")
		if !ok || user == "" {
			return Gateway{}, fmt.Errorf("invalid socks5 gateway %q: credentials must be user:pass", s)
		}
		g.Username, g.Password = user, pass
	}

	host, port, err := splitHostPort(hostport, defaultSOCKS5Port)
	if err != nil {
		return Gateway{}, fmt.Errorf("invalid socks5 gateway %q: %w", s, err)
	}
	g.Host, g.Port = host, port
	return g, nil
}

// ParseRelay parses "host[:port]". IPv6 hosts must be bracketed.
func ParseRelay(s string) (Relay, error) {
	host, port, err := splitHostPort(s, 0)
	if err != nil {
		return Relay{}, fmt.Errorf("invalid relay %q: %w", s, err)
	}
	return Relay{Host: host, Port: port}, nil
}

func splitHostPort(s string, defaultPort uint16) (string, uint16, error) {
	if s == "" {
		return "", 0, errors.New("empty host")
	}

	host, portStr := s, ""
	switch {
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, errors.New("missing ']' in address")
		}
		host = s[1:end]
		rest := s[end+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return "", 0, errors.New("unexpected characters after ']'")
			}
			portStr = rest[1:]
		}
	case strings.Count(s, ":") > 1:
		return "", 0, errors.New("IPv6 address must be bracketed")
	default:
		if h, p, ok := strings.Cut(s, ":"); ok {
			host, portStr = h, p
		}
	}

	if host == "" {
		return "", 0, errors.New("empty host")
	}
	if portStr == "" {
		return host, defaultPort, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, uint16(port), nil
}
