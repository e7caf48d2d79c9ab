package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Chain dials through the strategies of a Plan in order.
type Chain struct {
	cfg  Config
	plan Plan

	// OnAttempt, if set, is called before each strategy attempt.
	OnAttempt func(s Strategy)
}

func NewChain(cfg Config, plan Plan) *Chain {
	return &Chain{cfg: cfg, plan: plan}
}

// Plan returns the strategies the chain tries.
func (c *Chain) Plan() Plan {
	return c.plan
}

// DialContext returns the first connection any strategy establishes. Each
// attempt gets its own DialTimeout. Strategy failures are collected and only
// reported, wrapped in ErrNoRouteAvailable, once every strategy failed.
func (c *Chain) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if err := CheckTarget(host, c.cfg.DenyHosts); err != nil {
		return nil, err
	}

	var errs []error
	for _, s := range c.plan {
		if c.OnAttempt != nil {
			c.OnAttempt(s)
		}

		conn, err := c.attempt(ctx, s, network, address)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, ErrAddressForbidden) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", s, err))
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: empty plan", ErrNoRouteAvailable)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoRouteAvailable, errors.Join(errs...))
}

func (c *Chain) attempt(ctx context.Context, s Strategy, network, address string) (net.Conn, error) {
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}
	return s.DialContext(ctx, network, address)
}
