package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrAddressForbidden is returned for link-local or deny-listed targets.
	ErrAddressForbidden = errors.New("address forbidden")
	// ErrNoRouteAvailable is returned when every strategy in a plan failed.
	ErrNoRouteAvailable = errors.New("no route available")
	// ErrGatewayUnreachable is returned when a strategy could not reach its
	// own gateway or relay.
	ErrGatewayUnreachable = errors.New("gateway unreachable")
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Strategy is one step of a Plan.
type Strategy interface {
	Dialer
	fmt.Stringer
}

// Plan is an ordered, immutable list of strategies.
type Plan []Strategy

func (p Plan) String() string {
	s := "["
	for i, st := range p {
		if i > 0 {
			s += ", "
		}
		s += st.String()
	}
	return s + "]"
}
