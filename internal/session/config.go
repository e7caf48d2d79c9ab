package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/wsgate/internal/dialer"
	"github.com/die-net/wsgate/internal/dnstunnel"
	"github.com/die-net/wsgate/internal/header"
)

// Config is the immutable per-session configuration.
type Config struct {
	// Secret is the identity token every handshake must carry.
	Secret [header.IdentityLen]byte

	// Dialer reaches stream targets, normally a *dialer.Chain built from
	// the session's route.
	Dialer dialer.Dialer

	// Resolver answers datagram (DNS) sessions.
	Resolver dnstunnel.Resolver

	// HandshakeTimeout bounds the wait for the first client message.
	HandshakeTimeout time.Duration

	// KeepAlive is the idle time after which a zero-length message is written
	// to the outbound connection. It is checked every KeepAlive/3.
	KeepAlive time.Duration

	// StallTimeout is the idle time after which a health check counts a
	// stall. It is checked every StallTimeout/2.
	StallTimeout time.Duration

	// MaxStall consecutive stalls trigger a reconnect.
	MaxStall int

	// MaxReconnect bounds reconnect attempts without intervening data.
	MaxReconnect int

	BackoffBase   time.Duration
	BackoffJitter time.Duration
	BackoffMax    time.Duration

	// RetryDelay separates reconnect attempts after a failed dial.
	RetryDelay time.Duration

	// FailSilent drops the channel without a close frame when the handshake
	// is rejected, so scanners learn nothing.
	FailSilent bool

	Log *logrus.Entry
}

const (
	DefaultKeepAlive     = 15 * time.Second
	DefaultStallTimeout  = 8 * time.Second
	DefaultMaxStall      = 8
	DefaultMaxReconnect  = 24
	DefaultBackoffBase   = 30 * time.Millisecond
	DefaultBackoffJitter = 100 * time.Millisecond
	DefaultBackoffMax    = 5 * time.Second
	DefaultRetryDelay    = time.Second
)

// DefaultConfig returns a Config with the default timing and FailSilent
// set. Secret, Dialer and Resolver still need to be filled in.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		KeepAlive:        DefaultKeepAlive,
		StallTimeout:     DefaultStallTimeout,
		MaxStall:         DefaultMaxStall,
		MaxReconnect:     DefaultMaxReconnect,
		BackoffBase:      DefaultBackoffBase,
		BackoffJitter:    DefaultBackoffJitter,
		BackoffMax:       DefaultBackoffMax,
		RetryDelay:       DefaultRetryDelay,
		FailSilent:       true,
		Log:              logrus.NewEntry(logrus.StandardLogger()),
	}
}

// Validate rejects timings and limits that would make stall recovery spin:
// zero or negative intervals and counts.
func (c Config) Validate() error {
	var errs []error
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"keepalive", c.KeepAlive},
		{"stall timeout", c.StallTimeout},
		{"backoff base", c.BackoffBase},
		{"backoff max", c.BackoffMax},
		{"retry delay", c.RetryDelay},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %s", d.name, d.v))
		}
	}
	if c.MaxStall <= 0 {
		errs = append(errs, fmt.Errorf("max stall must be > 0, got %d", c.MaxStall))
	}
	if c.MaxReconnect <= 0 {
		errs = append(errs, fmt.Errorf("max reconnect must be > 0, got %d", c.MaxReconnect))
	}
	if c.BackoffJitter < 0 {
		errs = append(errs, fmt.Errorf("backoff jitter must be >= 0, got %s", c.BackoffJitter))
	}
	return errors.Join(errs...)
}
