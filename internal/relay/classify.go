package relay

import (
	"errors"
	"io"
	"net"
)

// IsTransient reports whether err, seen on an established outbound
// connection, is worth reconnecting for: end-of-stream, reset, broken pipe
// or a locally closed socket. Anything else is fatal for the session.
func IsTransient(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	for _, e := range transientErrnos {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
