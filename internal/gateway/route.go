package gateway

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/die-net/wsgate/internal/dialer"
)

// Routing parameters, in query form (?s5=) and path form (/s=).
const (
	paramSOCKS5       = "s5"
	paramGlobalSOCKS5 = "gs5"
	paramRelay        = "ip"

	pathSOCKS5       = "/s="
	pathGlobalSOCKS5 = "/g="
	pathRelay        = "/p="
)

// ParseRoute derives the dial route from the routing parameters in u, or
// returns def if there are none.
//
// A path form (/s=, /g=, /p=) wins over query parameters. Query parameters
// are applied in the order they appear, so "?ip=a&s5=b" tries the relay
// before the gateway. A gs5 parameter forces every dial through the SOCKS5
// gateway; with an empty value it uses the default gateway.
func ParseRoute(u *url.URL, def dialer.Route) (dialer.Route, error) {
	path, rawQuery := u.Path, u.RawQuery

	// Some clients can't set a query string and escape it into the path.
	if escaped := u.EscapedPath(); strings.Contains(strings.ToUpper(escaped), "%3F") {
		decoded, err := url.PathUnescape(escaped)
		if err != nil {
			return dialer.Route{}, fmt.Errorf("path: %w", err)
		}
		if i := strings.IndexByte(decoded, '?'); i >= 0 {
			path, rawQuery = decoded[:i], decoded[i+1:]
		}
	}

	if r, ok, err := routeFromPath(path, def); ok || err != nil {
		return r, err
	}
	if r, ok, err := routeFromQuery(rawQuery, def); ok || err != nil {
		return r, err
	}
	return def, nil
}

func routeFromPath(path string, def dialer.Route) (dialer.Route, bool, error) {
	var r dialer.Route
	switch {
	case pathValue(path, pathSOCKS5) != "":
		gw, err := dialer.ParseGateway(pathValue(path, pathSOCKS5))
		if err != nil {
			return r, false, err
		}
		r.Gateway = gw
		r.Kinds = []dialer.Kind{dialer.KindDirect, dialer.KindSOCKS5}
	case pathValue(path, pathGlobalSOCKS5) != "":
		gw, err := dialer.ParseGateway(pathValue(path, pathGlobalSOCKS5))
		if err != nil {
			return r, false, err
		}
		r.Gateway = gw
		r.Kinds = []dialer.Kind{dialer.KindSOCKS5}
	case pathValue(path, pathRelay) != "":
		relay, err := dialer.ParseRelay(pathValue(path, pathRelay))
		if err != nil {
			return r, false, err
		}
		r.Relay = relay
		r.Kinds = []dialer.Kind{dialer.KindDirect, dialer.KindRelay}
	default:
		return def, false, nil
	}
	return r, true, nil
}

// pathValue returns what follows marker in path, up to the next slash.
func pathValue(path, marker string) string {
	i := strings.Index(path, marker)
	if i < 0 {
		return ""
	}
	v := path[i+len(marker):]
	if j := strings.IndexByte(v, '/'); j >= 0 {
		v = v[:j]
	}
	return v
}

func routeFromQuery(rawQuery string, def dialer.Route) (dialer.Route, bool, error) {
	var (
		r      dialer.Route
		found  bool
		global bool
	)

	// url.ParseQuery loses ordering, so walk the pairs by hand.
	for pair := range strings.SplitSeq(rawQuery, "&") {
		key, value, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(key)
		if err != nil {
			return r, false, fmt.Errorf("query: %w", err)
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			return r, false, fmt.Errorf("query %s: %w", key, err)
		}

		switch key {
		case paramSOCKS5:
			if value == "" {
				continue
			}
			if r.Gateway, err = dialer.ParseGateway(value); err != nil {
				return r, false, fmt.Errorf("%s: %w", key, err)
			}
			r.Add(dialer.KindDirect)
			r.Add(dialer.KindSOCKS5)
		case paramGlobalSOCKS5:
			if value == "" {
				if def.Gateway.Host == "" {
					return r, false, fmt.Errorf("%s: no gateway given and no default gateway", key)
				}
				r.Gateway = def.Gateway
			} else if r.Gateway, err = dialer.ParseGateway(value); err != nil {
				return r, false, fmt.Errorf("%s: %w", key, err)
			}
			global = true
		case paramRelay:
			if value == "" {
				continue
			}
			if r.Relay, err = dialer.ParseRelay(value); err != nil {
				return r, false, fmt.Errorf("%s: %w", key, err)
			}
			r.Add(dialer.KindDirect)
			r.Add(dialer.KindRelay)
		default:
			continue
		}
		found = true
	}

	if !found {
		return def, false, nil
	}
	if global {
		r.Kinds = []dialer.Kind{dialer.KindSOCKS5}
	}
	return r, true, nil
}
